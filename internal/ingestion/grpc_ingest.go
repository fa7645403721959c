package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpPools/internal/event"
	"PerpPools/internal/market"
	"PerpPools/internal/oracle"
)

// GRPCIngestService provides admin/manual command injection via gRPC.
// gRPC ingest is for admin operations and manual command injection, not for
// high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	commandChan chan<- event.Command
}

func NewGRPCIngestService(commandChan chan<- event.Command) *GRPCIngestService {
	return &GRPCIngestService{commandChan: commandChan}
}

// CommandChan exposes the underlying channel for generic command submission
// via the SubmitCommand RPC.
func (s *GRPCIngestService) CommandChan() chan<- event.Command {
	return s.commandChan
}

func (s *GRPCIngestService) send(ctx context.Context, cmd event.Command) error {
	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectPrices manually injects a RelayPrices command.
func (s *GRPCIngestService) InjectPrices(
	ctx context.Context,
	provider string,
	reports []oracle.PriceReport,
) error {
	if len(reports) == 0 {
		return fmt.Errorf("at least one price report required")
	}

	cmd := &event.RelayPrices{
		CommandID:     uuid.New(),
		Provider:      provider,
		Reports:       reports,
		PriceSequence: time.Now().UnixMicro(), // Admin-injected: use timestamp as sequence
		Timestamp:     time.Now().Unix(),
	}
	return s.send(ctx, cmd)
}

// InjectCreateMarket manually injects a CreateMarket command.
func (s *GRPCIngestService) InjectCreateMarket(
	ctx context.Context,
	actor uuid.UUID,
	marketToken, indexToken, longToken, shortToken string,
	cfg market.Config,
) error {
	if marketToken == "" {
		return fmt.Errorf("market token must not be empty")
	}

	cmd := &event.CreateMarket{
		CommandID:  uuid.New(),
		Actor:      actor,
		Market:     marketToken,
		IndexToken: indexToken,
		LongToken:  longToken,
		ShortToken: shortToken,
		Config:     cfg,
		Sequence:   time.Now().UnixMicro(),
		Timestamp:  time.Now().Unix(),
	}
	return s.send(ctx, cmd)
}

// InjectSetParameter manually injects a SetParameter command.
func (s *GRPCIngestService) InjectSetParameter(
	ctx context.Context,
	actor uuid.UUID,
	key string,
	value int64,
) error {
	if key == "" {
		return fmt.Errorf("parameter key must not be empty")
	}

	cmd := &event.SetParameter{
		CommandID: uuid.New(),
		Actor:     actor,
		Key:       key,
		IntValue:  value,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now().Unix(),
	}
	return s.send(ctx, cmd)
}

// InjectCancelOrder manually injects a CancelOrder command on behalf of a
// keeper, for operational cleanup of stuck requests.
func (s *GRPCIngestService) InjectCancelOrder(
	ctx context.Context,
	initiator, owner uuid.UUID,
	nonce uint64,
	marketToken string,
) error {
	cmd := &event.CancelOrder{
		CommandID: uuid.New(),
		Initiator: initiator,
		Owner:     owner,
		Nonce:     nonce,
		Market:    marketToken,
		Sequence:  time.Now().UnixMicro(),
		Timestamp: time.Now().Unix(),
	}
	return s.send(ctx, cmd)
}
