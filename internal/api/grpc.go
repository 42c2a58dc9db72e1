package api

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"tradegate/internal/domain"
	"tradegate/internal/events"
)

// EventServiceServer is the server API of tradegate.v1.EventService.
// Requests and events travel as google.protobuf.Struct so the service needs
// no generated code.
type EventServiceServer interface {
	StreamEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// EventServiceDesc describes tradegate.v1.EventService.
var EventServiceDesc = grpc.ServiceDesc{
	ServiceName: "tradegate.v1.EventService",
	HandlerType: (*EventServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "tradegate/v1/events.proto",
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventServiceServer).StreamEvents(req, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// EventStreamServer implements StreamEvents on top of the event dispatcher.
type EventStreamServer struct {
	events *events.Dispatcher
	log    *slog.Logger
}

var _ EventServiceServer = (*EventStreamServer)(nil)

// NewEventStreamServer creates a gRPC event stream backed by disp.
func NewEventStreamServer(disp *events.Dispatcher, log *slog.Logger) *EventStreamServer {
	return &EventStreamServer{events: disp, log: log.With("component", "grpc")}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *EventStreamServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&EventServiceDesc, s)
}

// StreamEvents sends the recent history first when the request sets
// "snapshot", then streams new events until the client disconnects. Each
// event is sent once even when it lands in both. The request fields
// "account_id" and "types" filter what is sent.
func (s *EventStreamServer) StreamEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	fields := req.GetFields()
	var types []string
	for _, v := range fields["types"].GetListValue().GetValues() {
		types = append(types, v.GetStringValue())
	}
	filter := newEventFilter(fields["account_id"].GetStringValue(), types)

	// Subscribe before taking the snapshot so nothing falls between them.
	subID, ch := s.events.Subscribe(4096)
	defer s.events.Unsubscribe(subID)

	var sent seqWindow
	if fields["snapshot"].GetBoolValue() {
		snap := s.events.Recent(0)
		sent = newSeqWindow(snap)
		for _, ev := range snap {
			if !filter.match(ev) {
				continue
			}
			if err := sendEvent(stream, ev); err != nil {
				return err
			}
		}
	}

	s.log.Info("grpc client subscribed", "subID", subID, "account", filter.accountID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if sent.covers(ev.Seq) {
				continue
			}
			if !filter.match(ev) {
				continue
			}
			if err := sendEvent(stream, ev); err != nil {
				return err
			}
		}
	}
}

// seqWindow is the sequence range of a history snapshot.
type seqWindow struct {
	first, last uint64
}

func newSeqWindow(snap []domain.Event) seqWindow {
	if len(snap) == 0 {
		return seqWindow{}
	}
	return seqWindow{first: snap[0].Seq, last: snap[len(snap)-1].Seq}
}

// covers reports whether an event with seq was part of the snapshot.
func (w seqWindow) covers(seq uint64) bool {
	return w.last > 0 && seq >= w.first && seq <= w.last
}

func sendEvent(stream grpc.ServerStreamingServer[structpb.Struct], ev domain.Event) error {
	msg, err := eventToProto(ev)
	if err != nil {
		return err
	}
	return stream.Send(msg)
}

// eventToProto converts an event to a Struct carrying its JSON form.
func eventToProto(ev domain.Event) (*structpb.Struct, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return structpb.NewStruct(m)
}
