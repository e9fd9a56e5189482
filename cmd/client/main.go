package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jpillora/backoff"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yitech/perpchart/config"
	"github.com/yitech/perpchart/model/candle"
	"github.com/yitech/perpchart/rpc"
)

func main() {
	cfg := config.MustLoad()
	res, err := candle.ParseResolution(cfg.Client.Resolution)
	if err != nil {
		log.Fatalf("invalid resolution: %v", err)
	}

	conn, err := grpc.NewClient(cfg.Client.ServerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to create client: %v", err)
	}
	defer conn.Close()

	client := rpc.NewClient(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan tea.Msg, 128)
	go func() {
		b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
		for ctx.Err() == nil {
			err := streamFrames(ctx, client, cfg.Client.Symbol, res, ch, b)
			if ctx.Err() != nil {
				return
			}
			wait := b.Duration()
			ch <- statusMsg(fmt.Sprintf("stream error: %v, retrying in %s", err, wait.Round(time.Second)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	p := tea.NewProgram(
		newModel(cfg.Client.Symbol, res, cfg.Client.NKline, ch),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		log.Fatalf("tui error: %v", err)
	}
}

func streamFrames(ctx context.Context, client *rpc.Client, symbol string, res int64, ch chan<- tea.Msg, b *backoff.Backoff) error {
	stream, err := client.Subscribe(ctx, symbol, res)
	if err != nil {
		return err
	}
	for {
		f, err := stream.Recv()
		if err == io.EOF {
			return fmt.Errorf("server closed stream")
		}
		if err != nil {
			return err
		}
		b.Reset()
		ch <- frameMsg{f}
	}
}
