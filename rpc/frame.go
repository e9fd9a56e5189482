package rpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yitech/perpchart/model/candle"
)

// FrameKind tells a consumer how to apply a frame.
type FrameKind string

const (
	// KindSnapshot replaces the whole series.
	KindSnapshot FrameKind = "snapshot"
	// KindUpdate upserts candles by time.
	KindUpdate FrameKind = "update"
)

// Frame is one message of the Subscribe stream.
type Frame struct {
	Kind       FrameKind
	Symbol     string
	Resolution int64
	Candles    []candle.Candle
	// Session is nil until any sample has been seen.
	Session *candle.Range
}

// EncodeRequest builds the Subscribe request.
func EncodeRequest(symbol string, res int64) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"symbol":     symbol,
		"resolution": candle.FormatResolution(res),
	})
}

// DecodeRequest reads symbol and resolution. resolution may be a label
// ("5m") or a number of seconds.
func DecodeRequest(s *structpb.Struct) (symbol string, res int64, err error) {
	f := s.GetFields()
	symbol = f["symbol"].GetStringValue()
	if symbol == "" {
		return "", 0, fmt.Errorf("rpc: missing symbol")
	}
	v, ok := f["resolution"]
	if !ok {
		return "", 0, fmt.Errorf("rpc: missing resolution")
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		res, err = candle.ParseResolution(k.StringValue)
		if err != nil {
			return "", 0, fmt.Errorf("rpc: %w", err)
		}
	case *structpb.Value_NumberValue:
		sec, ok := candle.TruncSeconds(k.NumberValue)
		if !ok || sec <= 0 {
			return "", 0, fmt.Errorf("rpc: invalid resolution %v", k.NumberValue)
		}
		res = sec
	default:
		return "", 0, fmt.Errorf("rpc: invalid resolution type")
	}
	return symbol, res, nil
}

// EncodeFrame converts a Frame to its wire form.
func EncodeFrame(f Frame) (*structpb.Struct, error) {
	cs := make([]any, 0, len(f.Candles))
	for _, c := range f.Candles {
		cs = append(cs, map[string]any{
			"time":   c.Time,
			"open":   candle.FiniteOrZero(c.Open),
			"high":   candle.FiniteOrZero(c.High),
			"low":    candle.FiniteOrZero(c.Low),
			"close":  candle.FiniteOrZero(c.Close),
			"volume": candle.FiniteOrZero(c.Volume),
		})
	}
	var session any
	if f.Session != nil {
		session = map[string]any{"from": f.Session.From, "to": f.Session.To}
	}
	s, err := structpb.NewStruct(map[string]any{
		"kind":       string(f.Kind),
		"symbol":     f.Symbol,
		"resolution": f.Resolution,
		"session":    session,
		"candles":    cs,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: encode frame: %w", err)
	}
	return s, nil
}

// DecodeFrame converts the wire form back into a Frame.
func DecodeFrame(s *structpb.Struct) (*Frame, error) {
	f := s.GetFields()
	kind := FrameKind(f["kind"].GetStringValue())
	if kind != KindSnapshot && kind != KindUpdate {
		return nil, fmt.Errorf("rpc: unknown frame kind %q", kind)
	}
	out := &Frame{
		Kind:       kind,
		Symbol:     f["symbol"].GetStringValue(),
		Resolution: int64(f["resolution"].GetNumberValue()),
	}
	if sv := f["session"].GetStructValue(); sv != nil {
		sf := sv.GetFields()
		out.Session = &candle.Range{
			From: int64(sf["from"].GetNumberValue()),
			To:   int64(sf["to"].GetNumberValue()),
		}
	}
	for _, v := range f["candles"].GetListValue().GetValues() {
		cf := v.GetStructValue().GetFields()
		out.Candles = append(out.Candles, candle.Candle{
			Time:   int64(cf["time"].GetNumberValue()),
			Open:   cf["open"].GetNumberValue(),
			High:   cf["high"].GetNumberValue(),
			Low:    cf["low"].GetNumberValue(),
			Close:  cf["close"].GetNumberValue(),
			Volume: cf["volume"].GetNumberValue(),
		})
	}
	return out, nil
}
