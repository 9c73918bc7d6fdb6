package utils

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const (
	DEFAULT_READ_TIMEOUT   = 60 * time.Second
	DEFAULT_WRITE_TIMEOUT  = DEFAULT_READ_TIMEOUT
	GRACEFUL_ENVIRON_KEY   = "IS_GRACEFUL"
	GRACEFUL_ENVIRON_VALUE = GRACEFUL_ENVIRON_KEY + "=1"
	GRACEFUL_LISTENER_FD   = 3
)

// Server wraps http.Server with signal driven shutdown, SIGUSR2 re-exec and
// shutdown hooks for background workers.
type Server struct {
	*http.Server

	listener     net.Listener
	isGraceful   bool
	signalChan   chan os.Signal
	shutdownOnce sync.Once
	shutdownChan chan struct{}

	hooksMu sync.Mutex
	hooks   []func()
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		Server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		isGraceful:   os.Getenv(GRACEFUL_ENVIRON_KEY) != "",
		signalChan:   make(chan os.Signal, 1),
		shutdownChan: make(chan struct{}),
	}
}

// OnShutdown registers fn to run after the HTTP server drained, in registration order.
func (srv *Server) OnShutdown(fn func()) {
	srv.hooksMu.Lock()
	srv.hooks = append(srv.hooks, fn)
	srv.hooksMu.Unlock()
}

// ListenAndServe starts serving on tcp and handles signals.
func (srv *Server) ListenAndServe() error {
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := srv.getNetListener(addr)
	if err != nil {
		return err
	}
	srv.listener = ln
	return srv.serve()
}

func (srv *Server) serve() error {
	go srv.handleSignals()
	err := srv.Server.Serve(srv.listener)
	if err == http.ErrServerClosed {
		// wait until hooks finished
		<-srv.shutdownChan
		return nil
	}
	return err
}

func (srv *Server) getNetListener(addr string) (net.Listener, error) {
	if srv.isGraceful {
		file := os.NewFile(GRACEFUL_LISTENER_FD, "")
		ln, err := net.FileListener(file)
		if err != nil {
			return nil, fmt.Errorf("net.FileListener error: %w", err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.Listen error: %w", err)
	}
	return ln, nil
}

func (srv *Server) handleSignals() {
	signal.Notify(srv.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)

	for sig := range srv.signalChan {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			Sugar.Infof("received %s, graceful shutting down HTTP server", sig)
			srv.Stop()
			return
		case syscall.SIGUSR2:
			Sugar.Info("received SIGUSR2, graceful restarting HTTP server")
			if pid, err := srv.startNewProcess(); err != nil {
				Sugar.Errorf("start new process failed: %v, continue serving", err)
			} else {
				Sugar.Infof("start new process succeeded, new pid=%d", pid)
				srv.Stop()
				return
			}
		}
	}
}

// Stop drains the HTTP server and runs the shutdown hooks once.
func (srv *Server) Stop() {
	srv.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			Sugar.Errorf("HTTP server shutdown error: %v", err)
		} else {
			Sugar.Info("HTTP server shutdown success")
		}
		srv.hooksMu.Lock()
		hooks := append([]func(){}, srv.hooks...)
		srv.hooksMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		close(srv.shutdownChan)
	})
}

// startNewProcess hands the listener fd to a re-executed copy of this binary.
func (srv *Server) startNewProcess() (uintptr, error) {
	tcpLn, ok := srv.listener.(*net.TCPListener)
	if !ok {
		return 0, fmt.Errorf("listener is not *net.TCPListener")
	}
	file, err := tcpLn.File()
	if err != nil {
		return 0, fmt.Errorf("get listener file: %w", err)
	}

	envs := []string{}
	for _, e := range os.Environ() {
		if e != GRACEFUL_ENVIRON_VALUE {
			envs = append(envs, e)
		}
	}
	envs = append(envs, GRACEFUL_ENVIRON_VALUE)

	attr := &syscall.ProcAttr{
		Env:   envs,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	}
	pid, err := syscall.ForkExec(os.Args[0], os.Args, attr)
	if err != nil {
		return 0, fmt.Errorf("forkexec: %w", err)
	}
	return uintptr(pid), nil
}
