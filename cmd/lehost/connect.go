package main

import (
	"context"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	ble "github.com/rigado/lehost"
	"github.com/urfave/cli"
)

var connectCommand = cli.Command{
	Name:  "connect",
	Usage: "connect to a device, hold the link, then disconnect",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "addr", Usage: "address of the remote device"},
		cli.BoolFlag{Name: "random", Usage: "the address is a random address"},
		cli.DurationFlag{Name: "hold", Value: 5 * time.Second, Usage: "how long to keep the link"},
	},
	Action: connect,
}

func addrFromFlags(c *cli.Context) (ble.Addr, error) {
	s := c.String("addr")
	if s == "" {
		return ble.Addr{}, errors.New("--addr is required")
	}
	t := ble.AddrLEPublic
	if c.Bool("random") {
		t = ble.AddrLERandom
	}
	return ble.NewAddr(t, s)
}

func connect(c *cli.Context) error {
	addr, err := addrFromFlags(c)
	if err != nil {
		return err
	}
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

	ref, err := d.Connect(ctx, addr)
	if err != nil {
		return errors.Wrapf(err, "can't connect to %v", addr)
	}

	closed := make(chan struct{})
	var snapshot []byte
	var merr error
	err = d.Call(ctx, func() {
		ref.SetClosedCallback(func() { close(closed) })
		snapshot, merr = jsoniter.Marshal(d.Peers().FindByID(ref.PeerID()))
		fmt.Printf("connected to %v, handle 0x%04x\n", addr, ref.Handle())
	})
	if err != nil {
		return err
	}
	if merr == nil {
		fmt.Printf("%s\n", snapshot)
	}

	select {
	case <-time.After(c.Duration("hold")):
	case <-closed:
		fmt.Fprintf(os.Stderr, "%v disconnected\n", addr)
		return nil
	case <-ctx.Done():
	}

	releaseCtx, release := context.WithTimeout(context.Background(), time.Second)
	defer release()
	return d.Call(releaseCtx, func() {
		if ref.Active() {
			ref.Release()
		}
	})
}
