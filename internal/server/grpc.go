package server

import (
	"PerpPools/internal/ingestion"
	"PerpPools/internal/observability"
	"PerpPools/internal/persistence"
	"PerpPools/internal/projection"
	"PerpPools/internal/query"
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	googleuuid "github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	adminv1 "PerpPools/gen/go/perppools/admin/v1"
	commandsv1 "PerpPools/gen/go/perppools/commands/v1"
	ingestv1 "PerpPools/gen/go/perppools/ingest/v1"
	queryv1 "PerpPools/gen/go/perppools/query/v1"
)

// GRPCServer wraps the gRPC server and gRPC-Gateway HTTP mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	// Register services
	queryv1.RegisterQueryServiceServer(grpcServer, &queryServiceImpl{qs: deps.QueryService})
	ingestv1.RegisterIngestServiceServer(grpcServer, &ingestServiceImpl{svc: deps.IngestService})
	adminv1.RegisterAdminServiceServer(grpcServer, &adminServiceImpl{
		db:           deps.DB,
		snapMgr:      deps.SnapshotMgr,
		queryService: deps.QueryService,
		startTime:    deps.StartTime,
	})

	// Health check
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the gRPC-Gateway HTTP reverse proxy (blocking).
// HTTP/JSON is served via gRPC-Gateway for tooling, dashboards, curl.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux := runtime.NewServeMux()

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}

	// Register gateway handlers — they proxy HTTP/JSON to the gRPC server
	if err := queryv1.RegisterQueryServiceHandlerFromEndpoint(ctx, mux, s.grpcAddr, opts); err != nil {
		return fmt.Errorf("register query gateway: %w", err)
	}
	if err := ingestv1.RegisterIngestServiceHandlerFromEndpoint(ctx, mux, s.grpcAddr, opts); err != nil {
		return fmt.Errorf("register ingest gateway: %w", err)
	}
	if err := adminv1.RegisterAdminServiceHandlerFromEndpoint(ctx, mux, s.grpcAddr, opts); err != nil {
		return fmt.Errorf("register admin gateway: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP gateway listening on %s (proxying to gRPC %s)", s.httpAddr, s.grpcAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// QueryService gRPC implementation
// ============================================================================

type queryServiceImpl struct {
	queryv1.UnimplementedQueryServiceServer
	qs *query.QueryService
}

func (s *queryServiceImpl) GetBalance(ctx context.Context, req *queryv1.GetBalanceRequest) (*queryv1.GetBalanceResponse, error) {
	if req.Owner == "" {
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	owner, err := parseUUID(req.Owner)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid owner: %v", err)
	}

	bal, err := s.qs.GetBalance(ctx, owner, req.Token)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get balance: %v", err)
	}

	return &queryv1.GetBalanceResponse{
		Owner:        bal.Owner.String(),
		Token:        bal.Token,
		Balance:      bal.Balance,
		Escrow:       bal.Escrow,
		AsOfSequence: bal.AsOfSequence,
	}, nil
}

func (s *queryServiceImpl) ListPools(ctx context.Context, req *queryv1.ListPoolsRequest) (*queryv1.ListPoolsResponse, error) {
	if req.MarketToken == "" {
		return nil, status.Error(codes.InvalidArgument, "market_token is required")
	}

	pools, err := s.qs.GetPools(ctx, req.MarketToken)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get pools: %v", err)
	}

	var pbPools []*queryv1.PoolBalance
	for _, p := range pools {
		pbPools = append(pbPools, &queryv1.PoolBalance{
			MarketToken: p.MarketToken,
			Token:       p.Token,
			Balance:     p.Balance,
			FeesAccrued: p.FeesAccrued,
		})
	}

	var asOf int64
	if len(pools) > 0 {
		asOf = pools[0].AsOfSequence
	}

	return &queryv1.ListPoolsResponse{
		Pools:        pbPools,
		AsOfSequence: asOf,
	}, nil
}

func (s *queryServiceImpl) ListTransfers(ctx context.Context, req *queryv1.ListTransfersRequest) (*queryv1.ListTransfersResponse, error) {
	if req.Owner == "" {
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}

	owner, err := parseUUID(req.Owner)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid owner: %v", err)
	}

	pageSize := int(req.PageSize)
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}

	var afterSeq *int64
	if req.FromSequence > 0 {
		afterSeq = &req.FromSequence
	}

	entries, err := s.qs.GetTransferHistory(ctx, owner, pageSize, afterSeq)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get transfers: %v", err)
	}

	var transfers []*queryv1.TransferRecord
	for _, e := range entries {
		transfers = append(transfers, &queryv1.TransferRecord{
			TransferId:   e.TransferID,
			BatchId:      e.BatchID,
			Sequence:     e.Sequence,
			FromAccount:  e.FromAccount,
			ToAccount:    e.ToAccount,
			Token:        e.Token,
			Amount:       e.Amount,
			TransferType: fmt.Sprintf("%d", e.TransferType),
			TimestampUs:  e.Timestamp,
		})
	}

	return &queryv1.ListTransfersResponse{
		Transfers: transfers,
	}, nil
}

func (s *queryServiceImpl) ListCommands(ctx context.Context, req *queryv1.ListCommandsRequest) (*queryv1.ListCommandsResponse, error) {
	pageSize := int(req.PageSize)
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}

	var marketToken *string
	if req.MarketToken != "" {
		marketToken = &req.MarketToken
	}

	var afterSeq *int64
	if req.FromSequence > 0 {
		afterSeq = &req.FromSequence
	}

	entries, err := s.qs.GetCommandHistory(ctx, marketToken, pageSize, afterSeq)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get commands: %v", err)
	}

	var commands []*queryv1.CommandRecord
	for _, e := range entries {
		rec := &queryv1.CommandRecord{
			Sequence:    e.Sequence,
			CommandType: e.CommandType,
			Applied:     e.Applied,
			Reason:      e.Reason,
			Timestamp:   e.Timestamp,
		}
		if e.MarketToken != nil {
			rec.MarketToken = *e.MarketToken
		}
		commands = append(commands, rec)
	}

	return &queryv1.ListCommandsResponse{
		Commands: commands,
	}, nil
}

func (s *queryServiceImpl) GetSystemStatus(ctx context.Context, req *queryv1.GetSystemStatusRequest) (*queryv1.GetSystemStatusResponse, error) {
	return &queryv1.GetSystemStatusResponse{
		State: "ready",
	}, nil
}

// ============================================================================
// IngestService gRPC implementation
// ============================================================================

type ingestServiceImpl struct {
	ingestv1.UnimplementedIngestServiceServer
	svc *ingestion.GRPCIngestService
}

func (s *ingestServiceImpl) SubmitCommand(ctx context.Context, req *ingestv1.SubmitCommandRequest) (*ingestv1.SubmitCommandResponse, error) {
	if req.Envelope == nil {
		return nil, status.Error(codes.InvalidArgument, "envelope is required")
	}

	// Map protobuf CommandType enum to the wire name used by the parser
	commandTypeName := protoCommandTypeToString(req.Envelope.CommandType)
	if commandTypeName == "" {
		return nil, status.Errorf(codes.InvalidArgument, "unknown command_type: %d", req.Envelope.CommandType)
	}

	raw := ingestion.RawCommand{
		Subject:   commandTypeName,
		Data:      req.Envelope.Payload,
		Timestamp: time.Now(),
	}

	cmd, err := ingestion.ParseRawCommand(raw, commandTypeName)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "parse payload: %v", err)
	}

	// Inject into the command channel (same path as NATS ingestion)
	select {
	case s.svc.CommandChan() <- cmd:
		return &ingestv1.SubmitCommandResponse{Accepted: true}, nil
	case <-ctx.Done():
		return nil, status.Error(codes.DeadlineExceeded, "context cancelled")
	}
}

func protoCommandTypeToString(ct commandsv1.CommandType) string {
	switch ct {
	case commandsv1.CommandType_RELAY_PRICES:
		return "RelayPrices"
	case commandsv1.CommandType_CREATE_DEPOSIT:
		return "CreateDeposit"
	case commandsv1.CommandType_EXECUTE_DEPOSIT:
		return "ExecuteDeposit"
	case commandsv1.CommandType_CANCEL_DEPOSIT:
		return "CancelDeposit"
	case commandsv1.CommandType_CREATE_WITHDRAWAL:
		return "CreateWithdrawal"
	case commandsv1.CommandType_EXECUTE_WITHDRAWAL:
		return "ExecuteWithdrawal"
	case commandsv1.CommandType_CANCEL_WITHDRAWAL:
		return "CancelWithdrawal"
	case commandsv1.CommandType_CREATE_ORDER:
		return "CreateOrder"
	case commandsv1.CommandType_EXECUTE_ORDER:
		return "ExecuteOrder"
	case commandsv1.CommandType_CANCEL_ORDER:
		return "CancelOrder"
	case commandsv1.CommandType_CLAIM_FUNDS:
		return "ClaimFunds"
	case commandsv1.CommandType_FUND_ACCOUNT:
		return "FundAccount"
	case commandsv1.CommandType_WITHDRAW_FUNDS:
		return "WithdrawFunds"
	case commandsv1.CommandType_CREATE_MARKET:
		return "CreateMarket"
	case commandsv1.CommandType_UPDATE_MARKET_CONFIG:
		return "UpdateMarketConfig"
	case commandsv1.CommandType_REMOVE_MARKET:
		return "RemoveMarket"
	case commandsv1.CommandType_SET_PARAMETER:
		return "SetParameter"
	default:
		return ""
	}
}

func (s *ingestServiceImpl) SetParameter(ctx context.Context, req *ingestv1.SetParameterRequest) (*ingestv1.SetParameterResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	actor, err := parseUUID(req.Actor)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid actor: %v", err)
	}

	if err := s.svc.InjectSetParameter(ctx, actor, req.Key, req.Value); err != nil {
		return nil, status.Errorf(codes.Internal, "inject: %v", err)
	}

	return &ingestv1.SetParameterResponse{
		Accepted: true,
	}, nil
}

func (s *ingestServiceImpl) CancelOrder(ctx context.Context, req *ingestv1.CancelOrderRequest) (*ingestv1.CancelOrderResponse, error) {
	initiator, err := parseUUID(req.Initiator)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid initiator: %v", err)
	}

	owner, err := parseUUID(req.Owner)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid owner: %v", err)
	}

	if err := s.svc.InjectCancelOrder(ctx, initiator, owner, req.Nonce, req.MarketToken); err != nil {
		return nil, status.Errorf(codes.Internal, "inject: %v", err)
	}

	return &ingestv1.CancelOrderResponse{
		Accepted: true,
	}, nil
}

// ============================================================================
// AdminService gRPC implementation
// ============================================================================

type adminServiceImpl struct {
	adminv1.UnimplementedAdminServiceServer
	db           *sql.DB
	snapMgr      *persistence.SnapshotManager
	queryService *query.QueryService
	startTime    time.Time
}

func (s *adminServiceImpl) RebuildProjections(ctx context.Context, req *adminv1.RebuildProjectionsRequest) (*adminv1.RebuildProjectionsResponse, error) {
	if err := projection.RebuildProjections(ctx, s.db); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &adminv1.RebuildProjectionsResponse{
		Started: true,
		TaskId:  "rebuild-sync",
	}, nil
}

func (s *adminServiceImpl) GetCommandLogInfo(ctx context.Context, req *adminv1.GetCommandLogInfoRequest) (*adminv1.GetCommandLogInfoResponse, error) {
	latestSeq, err := s.snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}

	return &adminv1.GetCommandLogInfoResponse{
		LastSequence: latestSeq,
	}, nil
}

func (s *adminServiceImpl) VerifyIntegrity(ctx context.Context, req *adminv1.VerifyIntegrityRequest) (*adminv1.VerifyIntegrityResponse, error) {
	report, err := s.queryService.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}

	resp := &adminv1.VerifyIntegrityResponse{
		Passed: report.IsHealthy,
	}

	if !report.IsHealthy && len(report.HashChainBreaks) > 0 {
		resp.FirstMismatchSequence = report.HashChainBreaks[0]
		resp.ErrorDetail = fmt.Sprintf("%d hash chain breaks, %d unbalanced tokens",
			len(report.HashChainBreaks), len(report.UnbalancedTokens))
	}

	return resp, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseUUID(s string) (googleuuid.UUID, error) {
	return googleuuid.Parse(s)
}
