// Package main runs a memcache node, master or worker.
/*
 * Copyright (c) 2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NVIDIA/memcache/block"
	"github.com/NVIDIA/memcache/cmn"
	"github.com/NVIDIA/memcache/dbdriver"
	"github.com/NVIDIA/memcache/master"
	"github.com/NVIDIA/memcache/transport"
	"github.com/NVIDIA/memcache/worker"
	"github.com/golang/glog"
	"github.com/urfave/cli"
)

func main() {
	flag.CommandLine.Parse([]string{}) // glog registers on the default FlagSet

	app := cli.NewApp()
	app.Name = "mcnode"
	app.Usage = "memcache cluster node"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to JSON config"},
		cli.StringFlag{Name: "listen", Value: ":8380", Usage: "message server address"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "master",
			Usage:  "run the master directory",
			Action: runMaster,
		},
		{
			Name:  "worker",
			Usage: "run a worker node",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "id", Value: "1", Usage: "executor id"},
				cli.StringFlag{Name: "master", Value: "http://127.0.0.1:8380", Usage: "master endpoint"},
			},
			Action: runWorker,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMaster(c *cli.Context) error {
	config, err := cmn.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	var db *dbdriver.DB
	if config.DBPath != "" {
		if db, err = dbdriver.Open(config.DBPath); err != nil {
			return err
		}
	}
	d, err := master.NewDirectory(config, db)
	if err != nil {
		return err
	}
	srv := transport.NewServer(c.GlobalString("listen"))
	d.RegisterHandlers(srv)
	go waitSignal(func() {
		d.Stop()
		srv.Shutdown()
	})
	glog.Infof("master %q starting", config.AppName)
	return srv.Run()
}

func runWorker(c *cli.Context) error {
	config, err := cmn.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	id := block.ManagerID{ExecutorID: c.String("id"), Host: host}
	n := worker.NewNode(config, id, c.GlobalString("listen"), c.String("master"))
	if err := n.Start(); err != nil {
		return err
	}
	waitSignal(n.Stop)
	return nil
}

func waitSignal(fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	fn()
}
