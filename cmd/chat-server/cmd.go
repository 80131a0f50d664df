package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"

	chatapp "github.com/DanielGrotan/chat-app"
	"github.com/DanielGrotan/chat-app/chat"
	"github.com/DanielGrotan/chat-app/log"
	"github.com/DanielGrotan/chat-app/transport"

	_ "net/http/pprof"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose  []bool `short:"v" long:"verbose" description:"Show verbose logging."`
	Version  bool   `long:"version" description:"Print version and exit."`
	Bind     string `long:"bind" description:"Host and port to listen on." default:"127.0.0.1:8080"`
	WsBind   string `long:"ws-bind" description:"Optional host and port to accept WebSocket connections on."`
	WsPath   string `long:"ws-path" description:"HTTP path of the WebSocket endpoint." default:"/chat"`
	MaxFrame int    `long:"max-frame" description:"Largest frame payload accepted from clients, in bytes. 0 for no limit." default:"65536"`
	Log      string `long:"log" description:"Write chat log to this file, - for stdout."`
	Pprof    int    `long:"pprof" description:"Enable pprof http server for profiling."`
}

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

func main() {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Print(err)
		}
		return
	}

	if options.Pprof != 0 {
		go func() {
			fmt.Println(http.ListenAndServe(fmt.Sprintf("localhost:%d", options.Pprof), nil))
		}()
	}

	if options.Version {
		fmt.Println(Version)
		return
	}

	logger := log.Init(os.Stderr, len(options.Verbose))

	room := chat.NewRoom()
	host := chatapp.NewHost(room)
	host.SetMaxFrameSize(options.MaxFrame)
	if options.MaxFrame > 0 {
		logger.Infof("Accepting frames of up to %s", humanize.IBytes(uint64(options.MaxFrame)))
	}

	var transcript io.Writer
	if options.Log == "-" {
		transcript = os.Stdout
	} else if options.Log != "" {
		fp, err := os.OpenFile(options.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fail(8, "Failed to open log file for writing: %v\n", err)
		}
		defer fp.Close()
		transcript = fp
	}
	if transcript != nil {
		room.SetLogging(transcript)
	}

	listeners := []net.Listener{}
	s, err := transport.ListenTCP(options.Bind)
	if err != nil {
		fail(4, "Failed to listen on socket: %v\n", err)
	}
	listeners = append(listeners, s)
	fmt.Printf("Listening for connections on %v\n", s.Addr().String())

	if options.WsBind != "" {
		ws, err := transport.ListenWebsocket(options.WsBind, options.WsPath)
		if err != nil {
			s.Close()
			fail(5, "Failed to listen for websocket connections: %v\n", err)
		}
		listeners = append(listeners, ws)
		fmt.Printf("Listening for websocket connections on ws://%v%s\n", ws.Addr().String(), options.WsPath)
	}

	for _, l := range listeners {
		go func(l net.Listener) {
			if err := host.Serve(l); err != nil {
				logger.Errorf("Stopped serving %s: %s", l.Addr(), err)
			}
		}(l)
	}

	// Construct interrupt handler
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	<-sig // Wait for ^C signal
	fmt.Fprintln(os.Stderr, "Interrupt signal detected, shutting down.")
	if err := host.Close(); err != nil {
		logger.Errorf("Failed to shut down cleanly: %s", err)
	}
}
