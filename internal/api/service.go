package api

import (
	"context"
	"fmt"
	"time"

	"mockpair/internal/domain"
	"mockpair/internal/matching"
	"mockpair/internal/models"

	"google.golang.org/grpc"
)

const (
	matchingServiceName  = "mockpair.matching.v1.MatchingService"
	methodRequestBooking = "/" + matchingServiceName + "/RequestBooking"
	methodCancelBooking  = "/" + matchingServiceName + "/CancelBooking"
)

// BookingService is the synchronous matching surface both transports call.
type BookingService interface {
	RequestBooking(ctx context.Context, userID, mockType string, scheduleTime time.Time) (matching.Response, error)
	CancelBooking(ctx context.Context, req matching.CancelRequest) (matching.CancelResult, error)
	GetBookings(ctx context.Context, userID string) ([]*models.BookingRecord, error)
}

// Backend bundles the collaborators of the HTTP and gRPC servers.
type Backend struct {
	Bookings BookingService
	// Intents is optional; without it the intent endpoint answers 503.
	Intents domain.IntentPublisher
	// Users is optional; without it user provisioning answers 503.
	Users     domain.UserProvisioner
	Location  *time.Location
	MockTypes []models.MockType
}

func (b Backend) location() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}

// requestBooking resolves the wire slot in the configured location and runs
// the synchronous pairing.
func (b Backend) requestBooking(ctx context.Context, req models.IntentMessage) (matching.Response, error) {
	at, err := req.ScheduleTime(b.location())
	if err != nil {
		return matching.Response{}, fmt.Errorf("%w: %v", matching.ErrInvalidIntent, err)
	}
	return b.Bookings.RequestBooking(ctx, req.UserID, req.MockType, at)
}

// MatchingServer is the gRPC handler set.
type MatchingServer interface {
	RequestBooking(ctx context.Context, req *models.IntentMessage) (*matching.Response, error)
	CancelBooking(ctx context.Context, req *matching.CancelRequest) (*matching.CancelResult, error)
}

// MatchingService implements MatchingServer on top of a Backend.
type MatchingService struct {
	backend Backend
}

func NewMatchingService(backend Backend) *MatchingService {
	return &MatchingService{backend: backend}
}

func (s *MatchingService) RequestBooking(ctx context.Context, req *models.IntentMessage) (*matching.Response, error) {
	resp, err := s.backend.requestBooking(ctx, *req)
	if err != nil {
		return nil, grpcStatus(err)
	}
	return &resp, nil
}

func (s *MatchingService) CancelBooking(ctx context.Context, req *matching.CancelRequest) (*matching.CancelResult, error) {
	res, err := s.backend.Bookings.CancelBooking(ctx, *req)
	if err != nil {
		return nil, grpcStatus(err)
	}
	return &res, nil
}

func RegisterMatchingServer(s grpc.ServiceRegistrar, srv MatchingServer) {
	s.RegisterService(&matchingServiceDesc, srv)
}

var matchingServiceDesc = grpc.ServiceDesc{
	ServiceName: matchingServiceName,
	HandlerType: (*MatchingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestBooking", Handler: requestBookingHandler},
		{MethodName: "CancelBooking", Handler: cancelBookingHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func requestBookingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(models.IntentMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatchingServer).RequestBooking(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRequestBooking}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MatchingServer).RequestBooking(ctx, req.(*models.IntentMessage))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelBookingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(matching.CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatchingServer).CancelBooking(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCancelBooking}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MatchingServer).CancelBooking(ctx, req.(*matching.CancelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// MatchingClient calls MatchingService using the JSON codec.
type MatchingClient struct {
	cc grpc.ClientConnInterface
}

func NewMatchingClient(cc grpc.ClientConnInterface) *MatchingClient {
	return &MatchingClient{cc: cc}
}

func (c *MatchingClient) RequestBooking(ctx context.Context, req *models.IntentMessage, opts ...grpc.CallOption) (*matching.Response, error) {
	out := new(matching.Response)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, methodRequestBooking, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MatchingClient) CancelBooking(ctx context.Context, req *matching.CancelRequest, opts ...grpc.CallOption) (*matching.CancelResult, error) {
	out := new(matching.CancelResult)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, methodCancelBooking, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
