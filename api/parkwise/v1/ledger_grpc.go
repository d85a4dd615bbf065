package parkwisev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "parkwise.v1.ReservationLedger"

const (
	methodCreateReservation       = "CreateReservation"
	methodUpdateReservationWindow = "UpdateReservationWindow"
	methodCancelReservation       = "CancelReservation"
	methodDeleteReservation       = "DeleteReservation"
	methodPayReservation          = "PayReservation"
	methodListReservations        = "ListReservations"
	methodGetReceipt              = "GetReceipt"
	methodListSpots               = "ListSpots"
	methodGetDashboard            = "GetDashboard"
	methodQuoteReservation        = "QuoteReservation"
)

// FullMethod returns the "/service/method" path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ReservationLedgerServer is the server API for the reservation ledger.
type ReservationLedgerServer interface {
	CreateReservation(context.Context, *CreateReservationRequest) (*ReservationResponse, error)
	UpdateReservationWindow(context.Context, *UpdateReservationWindowRequest) (*ReservationResponse, error)
	CancelReservation(context.Context, *CancelReservationRequest) (*ReservationResponse, error)
	DeleteReservation(context.Context, *DeleteReservationRequest) (*Empty, error)
	PayReservation(context.Context, *PayReservationRequest) (*PaymentResponse, error)
	ListReservations(context.Context, *ListReservationsRequest) (*ListReservationsResponse, error)
	GetReceipt(context.Context, *GetReceiptRequest) (*Receipt, error)
	ListSpots(context.Context, *ListSpotsRequest) (*ListSpotsResponse, error)
	GetDashboard(context.Context, *GetDashboardRequest) (*Dashboard, error)
	QuoteReservation(context.Context, *QuoteReservationRequest) (*Quote, error)
}

// UnimplementedReservationLedgerServer can be embedded for forward compatibility.
type UnimplementedReservationLedgerServer struct{}

func (UnimplementedReservationLedgerServer) CreateReservation(context.Context, *CreateReservationRequest) (*ReservationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateReservation not implemented")
}

func (UnimplementedReservationLedgerServer) UpdateReservationWindow(context.Context, *UpdateReservationWindowRequest) (*ReservationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateReservationWindow not implemented")
}

func (UnimplementedReservationLedgerServer) CancelReservation(context.Context, *CancelReservationRequest) (*ReservationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelReservation not implemented")
}

func (UnimplementedReservationLedgerServer) DeleteReservation(context.Context, *DeleteReservationRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteReservation not implemented")
}

func (UnimplementedReservationLedgerServer) PayReservation(context.Context, *PayReservationRequest) (*PaymentResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PayReservation not implemented")
}

func (UnimplementedReservationLedgerServer) ListReservations(context.Context, *ListReservationsRequest) (*ListReservationsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListReservations not implemented")
}

func (UnimplementedReservationLedgerServer) GetReceipt(context.Context, *GetReceiptRequest) (*Receipt, error) {
	return nil, status.Error(codes.Unimplemented, "method GetReceipt not implemented")
}

func (UnimplementedReservationLedgerServer) ListSpots(context.Context, *ListSpotsRequest) (*ListSpotsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSpots not implemented")
}

func (UnimplementedReservationLedgerServer) GetDashboard(context.Context, *GetDashboardRequest) (*Dashboard, error) {
	return nil, status.Error(codes.Unimplemented, "method GetDashboard not implemented")
}

func (UnimplementedReservationLedgerServer) QuoteReservation(context.Context, *QuoteReservationRequest) (*Quote, error) {
	return nil, status.Error(codes.Unimplemented, "method QuoteReservation not implemented")
}

// RegisterReservationLedgerServer attaches server to registrar.
func RegisterReservationLedgerServer(registrar grpc.ServiceRegistrar, server ReservationLedgerServer) {
	registrar.RegisterService(&ReservationLedgerServiceDesc, server)
}

// ReservationLedgerServiceDesc describes the service for grpc.Server.
var ReservationLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReservationLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodCreateReservation, Handler: unaryHandler(methodCreateReservation, ReservationLedgerServer.CreateReservation)},
		{MethodName: methodUpdateReservationWindow, Handler: unaryHandler(methodUpdateReservationWindow, ReservationLedgerServer.UpdateReservationWindow)},
		{MethodName: methodCancelReservation, Handler: unaryHandler(methodCancelReservation, ReservationLedgerServer.CancelReservation)},
		{MethodName: methodDeleteReservation, Handler: unaryHandler(methodDeleteReservation, ReservationLedgerServer.DeleteReservation)},
		{MethodName: methodPayReservation, Handler: unaryHandler(methodPayReservation, ReservationLedgerServer.PayReservation)},
		{MethodName: methodListReservations, Handler: unaryHandler(methodListReservations, ReservationLedgerServer.ListReservations)},
		{MethodName: methodGetReceipt, Handler: unaryHandler(methodGetReceipt, ReservationLedgerServer.GetReceipt)},
		{MethodName: methodListSpots, Handler: unaryHandler(methodListSpots, ReservationLedgerServer.ListSpots)},
		{MethodName: methodGetDashboard, Handler: unaryHandler(methodGetDashboard, ReservationLedgerServer.GetDashboard)},
		{MethodName: methodQuoteReservation, Handler: unaryHandler(methodQuoteReservation, ReservationLedgerServer.QuoteReservation)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "parkwise/v1/ledger",
}

// unaryMethodHandler matches grpc.MethodDesc.Handler.
type unaryMethodHandler = func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler[Request any, Response any](method string, call func(ReservationLedgerServer, context.Context, *Request) (*Response, error)) unaryMethodHandler {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		ledgerServer := server.(ReservationLedgerServer)
		if interceptor == nil {
			return call(ledgerServer, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(ledgerServer, ctx, request.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}

// ReservationLedgerClient is the client API for the reservation ledger.
type ReservationLedgerClient interface {
	CreateReservation(ctx context.Context, in *CreateReservationRequest, opts ...grpc.CallOption) (*ReservationResponse, error)
	UpdateReservationWindow(ctx context.Context, in *UpdateReservationWindowRequest, opts ...grpc.CallOption) (*ReservationResponse, error)
	CancelReservation(ctx context.Context, in *CancelReservationRequest, opts ...grpc.CallOption) (*ReservationResponse, error)
	DeleteReservation(ctx context.Context, in *DeleteReservationRequest, opts ...grpc.CallOption) (*Empty, error)
	PayReservation(ctx context.Context, in *PayReservationRequest, opts ...grpc.CallOption) (*PaymentResponse, error)
	ListReservations(ctx context.Context, in *ListReservationsRequest, opts ...grpc.CallOption) (*ListReservationsResponse, error)
	GetReceipt(ctx context.Context, in *GetReceiptRequest, opts ...grpc.CallOption) (*Receipt, error)
	ListSpots(ctx context.Context, in *ListSpotsRequest, opts ...grpc.CallOption) (*ListSpotsResponse, error)
	GetDashboard(ctx context.Context, in *GetDashboardRequest, opts ...grpc.CallOption) (*Dashboard, error)
	QuoteReservation(ctx context.Context, in *QuoteReservationRequest, opts ...grpc.CallOption) (*Quote, error)
}

type reservationLedgerClient struct {
	conn grpc.ClientConnInterface
}

// NewReservationLedgerClient returns a client that always speaks the json codec.
func NewReservationLedgerClient(conn grpc.ClientConnInterface) ReservationLedgerClient {
	return &reservationLedgerClient{conn: conn}
}

func (client *reservationLedgerClient) CreateReservation(ctx context.Context, in *CreateReservationRequest, opts ...grpc.CallOption) (*ReservationResponse, error) {
	return invoke[ReservationResponse](ctx, client.conn, methodCreateReservation, in, opts)
}

func (client *reservationLedgerClient) UpdateReservationWindow(ctx context.Context, in *UpdateReservationWindowRequest, opts ...grpc.CallOption) (*ReservationResponse, error) {
	return invoke[ReservationResponse](ctx, client.conn, methodUpdateReservationWindow, in, opts)
}

func (client *reservationLedgerClient) CancelReservation(ctx context.Context, in *CancelReservationRequest, opts ...grpc.CallOption) (*ReservationResponse, error) {
	return invoke[ReservationResponse](ctx, client.conn, methodCancelReservation, in, opts)
}

func (client *reservationLedgerClient) DeleteReservation(ctx context.Context, in *DeleteReservationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, client.conn, methodDeleteReservation, in, opts)
}

func (client *reservationLedgerClient) PayReservation(ctx context.Context, in *PayReservationRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, client.conn, methodPayReservation, in, opts)
}

func (client *reservationLedgerClient) ListReservations(ctx context.Context, in *ListReservationsRequest, opts ...grpc.CallOption) (*ListReservationsResponse, error) {
	return invoke[ListReservationsResponse](ctx, client.conn, methodListReservations, in, opts)
}

func (client *reservationLedgerClient) GetReceipt(ctx context.Context, in *GetReceiptRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, client.conn, methodGetReceipt, in, opts)
}

func (client *reservationLedgerClient) ListSpots(ctx context.Context, in *ListSpotsRequest, opts ...grpc.CallOption) (*ListSpotsResponse, error) {
	return invoke[ListSpotsResponse](ctx, client.conn, methodListSpots, in, opts)
}

func (client *reservationLedgerClient) GetDashboard(ctx context.Context, in *GetDashboardRequest, opts ...grpc.CallOption) (*Dashboard, error) {
	return invoke[Dashboard](ctx, client.conn, methodGetDashboard, in, opts)
}

func (client *reservationLedgerClient) QuoteReservation(ctx context.Context, in *QuoteReservationRequest, opts ...grpc.CallOption) (*Quote, error) {
	return invoke[Quote](ctx, client.conn, methodQuoteReservation, in, opts)
}

func invoke[Response any](ctx context.Context, conn grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Response, error) {
	out := new(Response)
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := conn.Invoke(ctx, FullMethod(method), in, out, callOptions...); err != nil {
		return nil, err
	}
	return out, nil
}
