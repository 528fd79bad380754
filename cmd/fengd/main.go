// Command fengd is the feng RTSP/RTP streaming server entrypoint: load
// configuration, build the Server, run it until a termination signal.
package main

import (
	"flag"
	"log"

	"github.com/wenjiegit/feng/internal/config"
	"github.com/wenjiegit/feng/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a JSON configuration file (default: built-in configuration)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("feng: loading configuration: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("feng: creating server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("feng: server error: %v", err)
	}
}
