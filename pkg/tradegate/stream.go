package tradegate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"tradegate/internal/api"
	"tradegate/internal/domain"
)

// StreamOptions filters the event stream.
type StreamOptions struct {
	AccountID string
	Types     []domain.EventType
	// Snapshot asks for the server's recent history before live events.
	Snapshot bool
}

// StreamEvents connects to the gRPC event stream at addr and calls fn for
// every event. It blocks until ctx is cancelled, the stream ends or fn
// returns an error, which is passed through.
func StreamEvents(ctx context.Context, addr string, opts StreamOptions, fn func(domain.Event) error) error {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	desc := &api.EventServiceDesc.Streams[0]
	method := "/" + api.EventServiceDesc.ServiceName + "/" + desc.StreamName

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs, err := conn.NewStream(ctx, desc, method)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("starting stream: %w", err)
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}

	req, err := opts.request()
	if err != nil {
		return err
	}
	if err := stream.Send(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving event: %w", err)
		}
		ev, err := eventFromProto(msg)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (o StreamOptions) request() (*structpb.Struct, error) {
	types := make([]any, len(o.Types))
	for i, t := range o.Types {
		types[i] = string(t)
	}
	return structpb.NewStruct(map[string]any{
		"account_id": o.AccountID,
		"types":      types,
		"snapshot":   o.Snapshot,
	})
}

func eventFromProto(msg *structpb.Struct) (domain.Event, error) {
	var ev domain.Event
	b, err := json.Marshal(msg.AsMap())
	if err != nil {
		return ev, fmt.Errorf("encoding event: %w", err)
	}
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}
