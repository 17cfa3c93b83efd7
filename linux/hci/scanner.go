package hci

import (
	"fmt"
	"time"

	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/dispatch"
	"github.com/rigado/lehost/linux/hci/cmd"
	"github.com/rigado/lehost/linux/hci/evt"
)

// ScanStatus is reported to the caller of StartScan.
type ScanStatus int

const (
	ScanFailed ScanStatus = iota
	ScanPassive
	ScanActive
	ScanStopped
	ScanComplete
)

func (s ScanStatus) String() string {
	switch s {
	case ScanFailed:
		return "failed"
	case ScanPassive:
		return "passive"
	case ScanActive:
		return "active"
	case ScanStopped:
		return "stopped"
	case ScanComplete:
		return "complete"
	}
	return fmt.Sprintf("scan-status(%d)", int(s))
}

// ScannerState is the state of the scan procedure.
type ScannerState int

const (
	ScannerIdle ScannerState = iota
	ScannerStopping
	ScannerInitiating
	ScannerActiveScanning
	ScannerPassiveScanning
)

// PeriodInfinite scans until StopScan is called.
const PeriodInfinite time.Duration = 0

// LowEnergyScanResult describes a device found by a scan.
type LowEnergyScanResult struct {
	Address     ble.Addr
	Resolved    bool
	Connectable bool
	RSSI        int8
}

// ScannerDelegate receives scan results.
type ScannerDelegate interface {
	// OnPeerFound reports a device along with its advertising data, and for
	// active scans its scan response appended.
	OnPeerFound(result LowEnergyScanResult, data []byte)

	// OnDirectedAdvertisement reports a directed advertisement addressed to
	// this device.
	OnDirectedAdvertisement(result LowEnergyScanResult)
}

// ScanStatusCallback receives state changes of a scan. After ScanFailed,
// ScanStopped or ScanComplete it is not called again.
type ScanStatusCallback func(ScanStatus)

// ScanOptions are the parameters of a single scan.
type ScanOptions struct {
	Active           bool
	Interval         uint16
	Window           uint16
	FilterDuplicates bool
	FilterPolicy     uint8
	Period           time.Duration
}

// DefaultScanOptions is an active, unfiltered, unbounded scan.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Active:   true,
		Interval: DefaultLEScanInterval,
		Window:   DefaultLEScanWindow,
		Period:   PeriodInfinite,
	}
}

// LegacyLowEnergyScanner runs scans with the legacy (pre 5.0) LE scan
// commands.
type LegacyLowEnergyScanner struct {
	d        dispatch.Dispatcher
	cmds     CommandChannel
	addr     LocalAddressDelegate
	delegate ScannerDelegate

	state               ScannerState
	activeRequested     bool
	requestingLocalAddr bool
	scanCb              ScanStatusCallback
	runner              *SequentialCommandRunner
	periodTask          *dispatch.Task

	// scannable results still waiting for their scan response
	pending      map[ble.Addr]*pendingScanResult
	pendingOrder []ble.Addr

	// bumped on every StartScan so stale address callbacks are dropped
	seq uint64

	handlers []HandlerID
	log      ble.Logger
}

type pendingScanResult struct {
	result LowEnergyScanResult
	data   []byte
}

func NewLegacyLowEnergyScanner(d dispatch.Dispatcher, cmds CommandChannel, addr LocalAddressDelegate, delegate ScannerDelegate) *LegacyLowEnergyScanner {
	s := &LegacyLowEnergyScanner{
		d:        d,
		cmds:     cmds,
		addr:     addr,
		delegate: delegate,
		runner:   NewSequentialCommandRunner(cmds),
		pending:  make(map[ble.Addr]*pendingScanResult),
		log:      ble.ComponentLogger("le-scanner"),
	}
	s.handlers = append(s.handlers,
		cmds.AddLEMetaEventHandler(evt.LEAdvertisingReportSubCode, s.onAdvertisingReport),
		cmds.AddLEMetaEventHandler(evt.LEDirectedAdvertisingReportSubCode, s.onDirectedAdvertisingReport),
	)
	return s
}

func (s *LegacyLowEnergyScanner) State() ScannerState { return s.state }
func (s *LegacyLowEnergyScanner) IsIdle() bool        { return s.state == ScannerIdle }
func (s *LegacyLowEnergyScanner) IsInitiating() bool  { return s.state == ScannerInitiating }
func (s *LegacyLowEnergyScanner) IsActiveScanning() bool {
	return s.state == ScannerActiveScanning
}
func (s *LegacyLowEnergyScanner) IsPassiveScanning() bool {
	return s.state == ScannerPassiveScanning
}
func (s *LegacyLowEnergyScanner) IsScanning() bool {
	return s.IsActiveScanning() || s.IsPassiveScanning()
}

// AllowsRandomAddressChange is true while idle, or while a scan start is
// still waiting for the local address.
func (s *LegacyLowEnergyScanner) AllowsRandomAddressChange() bool {
	return s.state == ScannerIdle || (s.state == ScannerInitiating && s.requestingLocalAddr)
}

// StartScan begins a scan. It returns false unless the scanner is idle.
func (s *LegacyLowEnergyScanner) StartScan(opts ScanOptions, cb ScanStatusCallback) bool {
	if s.state != ScannerIdle {
		s.log.Debugf("scan rejected in state %d", s.state)
		return false
	}
	if cb == nil {
		panic("hci: StartScan without a status callback")
	}

	s.state = ScannerInitiating
	s.activeRequested = opts.Active
	s.scanCb = cb
	s.clearPending()
	s.requestingLocalAddr = true
	s.seq++
	seq := s.seq

	s.addr.EnsureLocalAddress(func(local ble.Addr) {
		if seq != s.seq || !s.requestingLocalAddr || s.state != ScannerInitiating {
			return
		}
		s.requestingLocalAddr = false
		s.startScanInternal(local, opts)
	})

	return true
}

func (s *LegacyLowEnergyScanner) startScanInternal(local ble.Addr, opts ScanOptions) {
	scanType := uint8(LEScanTypePassive)
	if opts.Active {
		scanType = LEScanTypeActive
	}
	var fd uint8
	if opts.FilterDuplicates {
		fd = 0x01
	}

	s.runner.QueueCommand(&cmd.LESetScanParameters{
		LEScanType:           scanType,
		LEScanInterval:       opts.Interval,
		LEScanWindow:         opts.Window,
		OwnAddressType:       ownAddressType(local),
		ScanningFilterPolicy: opts.FilterPolicy,
	}, nil)
	s.runner.QueueCommand(&cmd.LESetScanEnable{LEScanEnable: 0x01, FilterDuplicates: fd}, nil)

	s.runner.RunCommands(func(err error) {
		if err != nil {
			s.log.Warnf("failed to start scan: %v", err)
			s.state = ScannerIdle
			s.report(ScanFailed)
			return
		}

		if opts.Period != PeriodInfinite {
			s.periodTask = s.d.PostDelayed(opts.Period, s.onPeriodComplete)
		}

		if opts.Active {
			s.state = ScannerActiveScanning
			s.report(ScanActive)
		} else {
			s.state = ScannerPassiveScanning
			s.report(ScanPassive)
		}
	})
}

// StopScan ends the current scan. Results still waiting for a scan
// response are dropped. It returns false when idle or already stopping.
func (s *LegacyLowEnergyScanner) StopScan() bool {
	if s.state == ScannerIdle || s.state == ScannerStopping {
		return false
	}
	s.stopScanInternal(true)
	return true
}

// StopScanPeriodForTesting ends the scan as if its period elapsed.
func (s *LegacyLowEnergyScanner) StopScanPeriodForTesting() {
	if !s.IsScanning() {
		return
	}
	s.stopScanInternal(false)
}

func (s *LegacyLowEnergyScanner) onPeriodComplete() {
	if !s.IsScanning() {
		return
	}
	s.log.Debugf("scan period complete")
	s.stopScanInternal(false)
}

func (s *LegacyLowEnergyScanner) stopScanInternal(stopped bool) {
	s.periodTask.Cancel()
	s.periodTask = nil

	if s.state == ScannerInitiating && s.requestingLocalAddr {
		s.requestingLocalAddr = false
		s.state = ScannerIdle
		s.clearPending()
		s.report(ScanStopped)
		return
	}

	if !s.runner.IsReady() {
		s.runner.Cancel()
	}
	s.state = ScannerStopping

	if stopped {
		s.clearPending()
	} else {
		s.flushPending()
	}

	s.cmds.SendCommand(&cmd.LESetScanEnable{LEScanEnable: 0x00}, func(err error, _ []byte) {
		if err != nil {
			s.log.Warnf("failed to stop scan: %v", err)
		}
		s.state = ScannerIdle
		if stopped {
			s.report(ScanStopped)
		} else {
			s.report(ScanComplete)
		}
	})
}

func (s *LegacyLowEnergyScanner) report(status ScanStatus) {
	cb := s.scanCb
	switch status {
	case ScanFailed, ScanStopped, ScanComplete:
		s.scanCb = nil
	}
	if cb != nil {
		cb(status)
	}
}

func (s *LegacyLowEnergyScanner) onAdvertisingReport(params []byte) {
	if !s.IsScanning() {
		return
	}

	reports, err := evt.LEAdvertisingReport(params).ReportsWErr()
	if err != nil {
		s.log.Warnf("malformed advertising report: %v", err)
	}
	for _, r := range reports {
		// the delegate may stop the scan partway through an event
		if !s.IsScanning() {
			return
		}
		s.handleReport(r)
	}
}

func (s *LegacyLowEnergyScanner) handleReport(r evt.AdvertisingReport) {
	addr, resolved := AddrFromEvent(r.AddressType, r.Address)

	var connectable, scannable, directed bool
	switch r.EventType {
	case AdvInd:
		connectable, scannable = true, true
	case AdvDirectInd:
		connectable, directed = true, true
	case AdvScanInd:
		scannable = true
	case AdvNonconnInd:
	case ScanRsp:
		if s.activeRequested {
			s.handleScanResponse(addr, r)
		}
		return
	default:
		s.log.Debugf("ignoring advertising report of type 0x%02x", r.EventType)
		return
	}

	result := LowEnergyScanResult{
		Address:     addr,
		Resolved:    resolved,
		Connectable: connectable,
		RSSI:        r.RSSI,
	}

	if directed {
		s.delegate.OnDirectedAdvertisement(result)
		return
	}

	if s.activeRequested && scannable {
		if p, ok := s.pending[addr]; ok {
			p.result = result
			p.data = r.Data
			return
		}
		s.pending[addr] = &pendingScanResult{result: result, data: r.Data}
		s.pendingOrder = append(s.pendingOrder, addr)
		return
	}

	s.delegate.OnPeerFound(result, r.Data)
}

func (s *LegacyLowEnergyScanner) handleScanResponse(addr ble.Addr, r evt.AdvertisingReport) {
	p, ok := s.pending[addr]
	if !ok {
		s.log.Debugf("dropping unmatched scan response from %v", addr)
		return
	}
	s.removePending(addr)

	p.result.RSSI = r.RSSI
	data := make([]byte, 0, len(p.data)+len(r.Data))
	data = append(data, p.data...)
	data = append(data, r.Data...)
	s.delegate.OnPeerFound(p.result, data)
}

func (s *LegacyLowEnergyScanner) onDirectedAdvertisingReport(params []byte) {
	if !s.IsScanning() {
		return
	}

	reports, err := evt.LEDirectedAdvertisingReport(params).ReportsWErr()
	if err != nil {
		s.log.Warnf("malformed directed advertising report: %v", err)
	}
	for _, r := range reports {
		if !s.IsScanning() {
			return
		}
		addr, resolved := AddrFromEvent(r.AddressType, r.Address)
		s.delegate.OnDirectedAdvertisement(LowEnergyScanResult{
			Address:     addr,
			Resolved:    resolved,
			Connectable: true,
			RSSI:        r.RSSI,
		})
	}
}

func (s *LegacyLowEnergyScanner) removePending(addr ble.Addr) {
	delete(s.pending, addr)
	for i, a := range s.pendingOrder {
		if a == addr {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			break
		}
	}
}

func (s *LegacyLowEnergyScanner) clearPending() {
	s.pending = make(map[ble.Addr]*pendingScanResult)
	s.pendingOrder = nil
}

func (s *LegacyLowEnergyScanner) flushPending() {
	order := s.pendingOrder
	pending := s.pending
	s.clearPending()

	for _, addr := range order {
		p := pending[addr]
		s.delegate.OnPeerFound(p.result, p.data)
	}
}

// Close stops any scan and unregisters from the command channel.
func (s *LegacyLowEnergyScanner) Close() {
	if s.state != ScannerIdle && s.state != ScannerStopping {
		s.stopScanInternal(true)
	}
	for _, id := range s.handlers {
		s.cmds.RemoveEventHandler(id)
	}
	s.handlers = nil
}
