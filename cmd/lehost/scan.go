package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/rigado/lehost/gap"
	"github.com/rigado/lehost/linux/hci"
	"github.com/rigado/lehost/parser"
	"github.com/urfave/cli"
)

var scanCommand = cli.Command{
	Name:  "scan",
	Usage: "discover nearby devices",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "active", Usage: "request scan responses"},
		cli.DurationFlag{Name: "period", Value: 10 * time.Second, Usage: "scan duration, 0 until interrupted"},
		cli.BoolFlag{Name: "json", Usage: "print one JSON object per result"},
	},
	Action: scan,
}

// scanRecord is what a scan prints for each result.
type scanRecord struct {
	Peer        gap.PeerID     `json:"peer"`
	Address     ble.Addr       `json:"address"`
	Resolved    bool           `json:"resolved,omitempty"`
	Connectable bool           `json:"connectable"`
	RSSI        int8           `json:"rssi"`
	Fields      *parser.Fields `json:"fields,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func newScanRecord(id gap.PeerID, r hci.LowEnergyScanResult, data []byte) scanRecord {
	rec := scanRecord{
		Peer:        id,
		Address:     r.Address,
		Resolved:    r.Resolved,
		Connectable: r.Connectable,
		RSSI:        r.RSSI,
	}
	f, err := parser.Parse(data)
	switch {
	case err == parser.EmptyOrNilPdu:
	case err != nil:
		rec.Fields = f
		rec.Error = err.Error()
	default:
		rec.Fields = f
	}
	return rec
}

func (rec scanRecord) write(w io.Writer, asJSON bool) error {
	if asJSON {
		b, err := jsoniter.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	}

	name := ""
	if rec.Fields != nil && rec.Fields.LocalName != "" {
		name = fmt.Sprintf(" %q", rec.Fields.LocalName)
	}
	conn := ""
	if rec.Connectable {
		conn = " connectable"
	}
	_, err := fmt.Fprintf(w, "%v %v rssi %d%s%s\n", rec.Address, rec.Address.Type, rec.RSSI, conn, name)
	return err
}

func scan(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	d, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := signalContext(d)
	defer cancel()

	opts := d.ScanOptions()
	if c.Bool("active") {
		opts.Active = true
	}
	opts.Period = c.Duration("period")
	asJSON := c.Bool("json")

	status := make(chan hci.ScanStatus, 8)
	var started bool
	err = d.Call(ctx, func() {
		started = d.Scan(opts, func(p *gap.Peer, r hci.LowEnergyScanResult, data []byte) {
			if err := newScanRecord(p.ID(), r, data).write(os.Stdout, asJSON); err != nil {
				d.Scanner().StopScan()
			}
		}, func(s hci.ScanStatus) {
			status <- s
		})
	})
	if err != nil {
		return err
	}
	if !started {
		return errors.New("scanner busy")
	}

	for {
		select {
		case s := <-status:
			switch s {
			case hci.ScanFailed:
				return errors.Wrap(ble.ErrFailed, "scan")
			case hci.ScanStopped, hci.ScanComplete:
				return nil
			}
		case <-ctx.Done():
			stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
			defer stop()
			d.Call(stopCtx, func() { d.Scanner().StopScan() })
			return nil
		}
	}
}
