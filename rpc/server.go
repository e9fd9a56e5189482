package rpc

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yitech/perpchart/adapter"
	"github.com/yitech/perpchart/hub"
	"github.com/yitech/perpchart/series"
)

const defaultQueueSize = 256

// Source is the part of *hub.Hub the server needs.
type Source interface {
	Subscribe(ctx context.Context, symbol string, res int64, handler hub.Handler) (adapter.Token, series.Snapshot, error)
	Snapshot(symbol string, res int64) (series.Snapshot, bool)
}

// Server implements ChartServer on top of a hub.
type Server struct {
	source    Source
	logger    *zap.Logger
	queueSize int
}

// NewServer returns a Server. queueSize bounds the per-stream update
// backlog; a non-positive value selects the default.
func NewServer(source Source, logger *zap.Logger, queueSize int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Server{source: source, logger: logger.Named("rpc"), queueSize: queueSize}
}

// Subscribe sends one snapshot frame and then an update frame for every
// change. A stream that falls behind is resynchronized with a fresh
// snapshot instead of blocking the hub.
func (s *Server) Subscribe(req *structpb.Struct, stream SubscribeStream) error {
	symbol, res, err := DecodeRequest(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	log := s.logger.With(
		zap.String("stream", uuid.NewString()),
		zap.String("symbol", symbol),
		zap.Int64("resolution", res),
	)
	ctx := stream.Context()

	updates := make(chan hub.Update, s.queueSize)
	var stale atomic.Bool
	tok, snap, err := s.source.Subscribe(ctx, symbol, res, func(u hub.Update) {
		select {
		case updates <- u:
		default:
			stale.Store(true)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return status.FromContextError(ctx.Err()).Err()
		}
		log.Warn("subscribe failed", zap.Error(err))
		return status.Error(codes.Unavailable, err.Error())
	}
	defer tok.Unsubscribe()
	log.Info("stream opened", zap.Int("candles", len(snap.Candles)))

	if err := s.sendSnapshot(stream, snap); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("stream closed")
			return ctx.Err()
		case u := <-updates:
			if stale.Swap(false) {
				drain(updates)
				cur, ok := s.source.Snapshot(symbol, res)
				if !ok {
					continue
				}
				log.Warn("stream fell behind, resending snapshot")
				if err := s.sendSnapshot(stream, cur); err != nil {
					return err
				}
				continue
			}
			if err := s.sendUpdate(stream, u); err != nil {
				return err
			}
		}
	}
}

func (s *Server) sendSnapshot(stream SubscribeStream, snap series.Snapshot) error {
	f := Frame{
		Kind:       KindSnapshot,
		Symbol:     snap.Symbol,
		Resolution: snap.Resolution,
		Candles:    snap.Candles,
	}
	if snap.HasSession {
		r := snap.Session
		f.Session = &r
	}
	return s.send(stream, f)
}

func (s *Server) sendUpdate(stream SubscribeStream, u hub.Update) error {
	f := Frame{
		Kind:       KindUpdate,
		Symbol:     u.Symbol,
		Resolution: u.Resolution,
		Candles:    u.Candles,
	}
	if u.Reset {
		f.Kind = KindSnapshot
	}
	if u.HasSession {
		r := u.Session
		f.Session = &r
	}
	return s.send(stream, f)
}

func (s *Server) send(stream SubscribeStream, f Frame) error {
	m, err := EncodeFrame(f)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(m)
}

func drain(ch <-chan hub.Update) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
