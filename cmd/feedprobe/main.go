// feedprobe connects to a running bridge, subscribes to one topic and prints
// every frame it receives.
// Usage: go run ./cmd/feedprobe --url ws://localhost:8080/ws --topic 1 --param MSFT --param Last
//
// A time probe parameter is appended unless --no-probe is set, so reports
// arrive with timestamps shifted into this machine's clock.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/rtdbridge/internal/feed"
	"github.com/rickgao/rtdbridge/internal/model"
	"github.com/rickgao/rtdbridge/internal/protocol"
	"github.com/rickgao/rtdbridge/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "feedprobe",
		Version: version.String(),
		Usage:   "subscribe to a bridge topic and print what comes back",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:8080/ws", EnvVars: []string{"RTDBRIDGE_URL"}, Usage: "Bridge WebSocket URL"},
			&cli.IntFlag{Name: "topic", Value: 1, Usage: "Topic id to subscribe"},
			&cli.StringSliceFlag{Name: "param", Usage: "Subscription parameter (number, RFC 3339 time or string); repeatable"},
			&cli.BoolFlag{Name: "no-probe", Usage: "Do not append a time probe parameter"},
			&cli.DurationFlag{Name: "duration", Usage: "Cancel and exit after this long (0 runs until interrupted)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log every frame at debug level"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("feedprobe failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if d := c.Duration("duration"); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	topic := c.Int("topic")
	params := make([]model.Variant, 0, len(c.StringSlice("param"))+1)
	for _, p := range c.StringSlice("param") {
		params = append(params, parseParam(p))
	}
	if !c.Bool("no-probe") {
		params = append(params, feed.ProbeParam(time.Now()))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.String("url"), nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	defer conn.Close()
	logger.Info("connected", "url", c.String("url"))

	frames := make(chan error, 1)
	go func() { frames <- readFrames(conn, logger) }()

	sub, err := protocol.EncodeSubscribe(model.SubscriptionRequest{TopicID: topic, Params: params})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, sub); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	logger.Info("subscribed", "topic", topic, "params", len(params))

	select {
	case err := <-frames:
		return err
	case <-ctx.Done():
	}

	if cancelFrame, err := protocol.EncodeCancel(model.CancelRequest{TopicID: topic}); err == nil {
		conn.WriteMessage(websocket.BinaryMessage, cancelFrame)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	logger.Info("closed")
	return nil
}

func readFrames(conn *websocket.Conn, logger *slog.Logger) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		switch kind {
		case websocket.TextMessage:
			fmt.Printf("[STATUS] %s\n", data)
		case websocket.BinaryMessage:
			msg, err := protocol.Decode(data)
			if err != nil {
				logger.Warn("undecodable frame", "error", err, "bytes", len(data))
				continue
			}
			logger.Debug("frame", "type", msg.Type.String())
			printMessage(msg)
		}
	}
}

func printMessage(msg protocol.Message) {
	switch {
	case msg.Report != nil:
		for _, row := range msg.Report.Rows {
			ts := "-"
			if row.Timestamp != nil {
				ts = row.Timestamp.Local().Format("15:04:05.000")
			}
			fmt.Printf("[DATA]   topic=%-4d value=%-16s at=%s\n", row.TopicID, row.Value, ts)
		}
	case msg.Error != nil:
		fmt.Printf("[ERROR]  %s\n", msg.Error)
	}
}

// parseParam picks the narrowest kind that parses: number, then time, then string.
func parseParam(s string) model.Variant {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return model.Number(n)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return model.Time(t)
	}
	return model.String(s)
}
