// Command aio-echo is the TCP echo example of spec.md §8 scenario S1:
// bind 127.0.0.1:0, listen with a backlog of 128, and for each accepted
// connection read whatever arrives and write it straight back until the
// peer closes.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-aio/aio"
	"github.com/go-aio/aio/internal/logging"
	"github.com/go-aio/aio/internal/tcpconn"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		addrStr = flag.String("addr", "127.0.0.1:0", "address to listen on")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	addr, err := net.ResolveTCPAddr("tcp4", *addrStr)
	if err != nil {
		logger.Error("invalid address", "error", err)
		os.Exit(1)
	}

	loop, err := aio.Create(aio.DefaultConfig())
	if err != nil {
		logger.Error("failed to create loop", "error", err)
		os.Exit(1)
	}
	defer loop.Destroy()

	listener, err := tcpconn.NewSocket(loop.Backend(), unix.AF_INET, loop)
	if err != nil {
		logger.Error("failed to create socket", "error", err)
		os.Exit(1)
	}
	if err := listener.Bind(addr); err != nil {
		logger.Error("bind failed", "error", err)
		os.Exit(1)
	}
	if err := listener.SetReuseAddr(true); err != nil {
		logger.Error("setsockopt failed", "error", err)
		os.Exit(1)
	}

	if err := listener.Listen(128, func(conn *tcpconn.Conn, err error) {
		if err != nil {
			logger.Warn("accept failed", "error", err)
			return
		}
		serveEcho(conn, logger)
	}); err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}

	bound, err := listener.GetSockName()
	if err == nil {
		logger.Info("echo server listening", "addr", bound.String())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		loop.Stop()
	}()

	loop.Run(aio.RunDefault)
}

func serveEcho(conn *tcpconn.Conn, logger *logging.Logger) {
	conn.ReadStart(func(suggested int) []byte {
		return make([]byte, suggested)
	}, func(data []byte, err error) {
		if err != nil || len(data) == 0 {
			conn.Destroy(nil)
			return
		}
		buf := append([]byte(nil), data...)
		if werr := conn.Write(buf, func(err error) {
			if err != nil {
				logger.Warn("echo write failed", "error", err)
			}
		}); werr != nil {
			conn.Destroy(nil)
		}
	})
}
