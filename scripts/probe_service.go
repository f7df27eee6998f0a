package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"github.com/harunnryd/netra/pkg/protocol"
	"github.com/harunnryd/netra/pkg/session"
)

type probeConfig struct {
	Service struct {
		BaseURL string `mapstructure:"base_url"`
		WSPath  string `mapstructure:"ws_path"`
	} `mapstructure:"service"`
}

func main() {
	configPath := flag.String("config", "examples/headless/config.local.yaml", "")
	baseURL := flag.String("url", "", "override service base URL")
	mode := flag.String("mode", "navigation", "")
	framePath := flag.String("frame", "", "JPEG file to send as the probe frame")
	wait := flag.Duration("wait", 10*time.Second, "how long to listen for responses")
	flag.Parse()

	base := *baseURL
	path := "/ws/realtime"
	if base == "" {
		cfg, err := loadProbeConfig(*configPath)
		if err != nil {
			fmt.Println("config error:", err)
			os.Exit(1)
		}
		base = cfg.Service.BaseURL
		if cfg.Service.WSPath != "" {
			path = cfg.Service.WSPath
		}
	}
	if base == "" {
		fmt.Println("usage: probe_service -url=http://host:8000 [-mode=navigation] [-frame=capture.jpg]")
		os.Exit(1)
	}

	parsedMode, err := protocol.ParseMode(*mode)
	if err != nil {
		fmt.Println("mode error:", err)
		os.Exit(1)
	}
	endpoint, err := session.DeriveEndpoint(base, path)
	if err != nil {
		fmt.Println("endpoint error:", err)
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Println("connected:", endpoint)

	if err := conn.WriteJSON(protocol.NewConfigMessage(parsedMode, nil)); err != nil {
		fmt.Println("config send error:", err)
		os.Exit(1)
	}

	payload := probeFrame()
	if *framePath != "" {
		payload, err = os.ReadFile(*framePath)
		if err != nil {
			fmt.Println("frame read error:", err)
			os.Exit(1)
		}
	}
	if err := conn.WriteJSON(protocol.NewFrameMessage(payload, 1, time.Now())); err != nil {
		fmt.Println("frame send error:", err)
		os.Exit(1)
	}
	fmt.Printf("frame sent: %d bytes\n", len(payload))

	_ = conn.SetReadDeadline(time.Now().Add(*wait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fmt.Println("<<", string(data))
	}
}

func loadProbeConfig(path string) (probeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return probeConfig{}, err
	}
	var cfg probeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return probeConfig{}, err
	}
	return cfg, nil
}

// probeFrame returns a minimal JPEG-like payload for services that
// only check the envelope.
func probeFrame() []byte {
	frame := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	frame = append(frame, "netra-probe"...)
	return append(frame, 0xFF, 0xD9)
}
