package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/log"
	"github.com/huoshan017/mcnet/netpoll"
	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/protocol"
	"github.com/huoshan017/mcnet/server"
)

func main() {
	host := flag.String("host", "0.0.0.0", "listen host")
	port := flag.Int("port", 25565, "listen port")
	maxConns := flag.Int("max", server.DefaultServerMaxConnCount, "max connections")
	threshold := flag.Int("threshold", packet.DefaultCompressThreshold, "compression threshold, negative disables compression")
	online := flag.Bool("online", true, "verify players with the session server")
	backend := flag.String("backend", "completion", "event loop backend: completion or readiness")
	motd := flag.String("motd", common.DefaultMotd, "status description")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log.SetLevel(*logLevel)

	kind, err := netpoll.ParseBackendKind(*backend)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	options := []common.Option{
		server.WithConnMaxCount(*maxConns),
		server.WithBackendKind(kind),
		server.WithReuseAddr(true),
		common.WithCompressThreshold(*threshold),
		common.WithOnlineMode(*online),
		common.WithStatusProvider(func(n int) *protocol.StatusDocument {
			return protocol.NewStatusDocument(*motd, n, *maxConns)
		}),
	}
	if *online {
		key, err := packet.GenerateServerKey(packet.DefaultServerKeyBits)
		if err != nil {
			log.Fatalf("mcnet: generate server key err: %v", err)
		}
		options = append(options, common.WithServerKey(key))
	}

	s := server.NewServer(nil, options...)
	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	if err = s.Listen(addr); err != nil {
		log.Fatalf("mcnet: listen %v err: %v", addr, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("mcnet: received signal %v, stopping", sig)
		s.Stop()
	}()

	if err = s.Serve(); err != nil {
		log.Errorf("mcnet: serve err: %v", err)
		os.Exit(1)
	}
}
