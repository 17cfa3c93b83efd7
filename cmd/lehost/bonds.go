package main

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/lehost/cache"
	"github.com/urfave/cli"
)

var bondsCommand = cli.Command{
	Name:  "bonds",
	Usage: "inspect the bond file",
	Subcommands: []cli.Command{
		{
			Name:   "list",
			Usage:  "print every bond as JSON",
			Action: listBonds,
		},
		{
			Name:  "remove",
			Usage: "forget the bond of a device",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Usage: "address of the device"},
				cli.BoolFlag{Name: "random", Usage: "the address is a random address"},
			},
			Action: removeBond,
		},
	},
}

func bondCache(c *cli.Context) (*cache.BondCache, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if cfg.BondFile == "" {
		return nil, errors.New("no bond file configured, use --bond-file or bond_file")
	}
	return cache.New(cfg.BondFile), nil
}

func listBonds(c *cli.Context) error {
	bc, err := bondCache(c)
	if err != nil {
		return err
	}
	bonds, err := bc.All()
	if err != nil {
		return err
	}
	for _, b := range bonds {
		out, err := jsoniter.Marshal(b)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", out)
	}
	return nil
}

func removeBond(c *cli.Context) error {
	addr, err := addrFromFlags(c)
	if err != nil {
		return err
	}
	bc, err := bondCache(c)
	if err != nil {
		return err
	}
	return bc.Remove(addr)
}
