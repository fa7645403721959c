package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds commands
// into the settlement core via the commandChan. NATS JetStream is the
// primary high-throughput ingestion surface; each subject maps to one
// command type.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is the received-but-untyped command from NATS, ready for the
// shell to validate and convert into a typed event.Command before sending
// to the core.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to command types.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Each command
// type gets its own subject for independent scaling.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "pools.prices.>", CommandType: "RelayPrices", ConsumerName: "pools-prices", StreamName: "POOLS_PRICES"},
		{Subject: "pools.deposits.create.>", CommandType: "CreateDeposit", ConsumerName: "pools-deposit-create", StreamName: "POOLS_DEPOSITS"},
		{Subject: "pools.deposits.execute.>", CommandType: "ExecuteDeposit", ConsumerName: "pools-deposit-execute", StreamName: "POOLS_DEPOSITS"},
		{Subject: "pools.deposits.cancel.>", CommandType: "CancelDeposit", ConsumerName: "pools-deposit-cancel", StreamName: "POOLS_DEPOSITS"},
		{Subject: "pools.withdrawals.create.>", CommandType: "CreateWithdrawal", ConsumerName: "pools-wd-create", StreamName: "POOLS_WITHDRAWALS"},
		{Subject: "pools.withdrawals.execute.>", CommandType: "ExecuteWithdrawal", ConsumerName: "pools-wd-execute", StreamName: "POOLS_WITHDRAWALS"},
		{Subject: "pools.withdrawals.cancel.>", CommandType: "CancelWithdrawal", ConsumerName: "pools-wd-cancel", StreamName: "POOLS_WITHDRAWALS"},
		{Subject: "pools.orders.create.>", CommandType: "CreateOrder", ConsumerName: "pools-order-create", StreamName: "POOLS_ORDERS"},
		{Subject: "pools.orders.execute.>", CommandType: "ExecuteOrder", ConsumerName: "pools-order-execute", StreamName: "POOLS_ORDERS"},
		{Subject: "pools.orders.cancel.>", CommandType: "CancelOrder", ConsumerName: "pools-order-cancel", StreamName: "POOLS_ORDERS"},
		{Subject: "pools.claims.>", CommandType: "ClaimFunds", ConsumerName: "pools-claims", StreamName: "POOLS_CLAIMS"},
		{Subject: "pools.funding.credit.>", CommandType: "FundAccount", ConsumerName: "pools-fund-credit", StreamName: "POOLS_FUNDING"},
		{Subject: "pools.funding.withdraw.>", CommandType: "WithdrawFunds", ConsumerName: "pools-fund-withdraw", StreamName: "POOLS_FUNDING"},
		{Subject: "pools.admin.market.create.>", CommandType: "CreateMarket", ConsumerName: "pools-market-create", StreamName: "POOLS_ADMIN"},
		{Subject: "pools.admin.market.update.>", CommandType: "UpdateMarketConfig", ConsumerName: "pools-market-update", StreamName: "POOLS_ADMIN"},
		{Subject: "pools.admin.market.remove.>", CommandType: "RemoveMarket", ConsumerName: "pools-market-remove", StreamName: "POOLS_ADMIN"},
		{Subject: "pools.admin.param.>", CommandType: "SetParameter", ConsumerName: "pools-param", StreamName: "POOLS_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "POOLS_PRICES",
			Subjects:  []string{"pools.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POOLS_DEPOSITS",
			Subjects:  []string{"pools.deposits.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POOLS_WITHDRAWALS",
			Subjects:  []string{"pools.withdrawals.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POOLS_ORDERS",
			Subjects:  []string{"pools.orders.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POOLS_CLAIMS",
			Subjects:  []string{"pools.claims.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POOLS_FUNDING",
			Subjects:  []string{"pools.funding.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "POOLS_ADMIN",
			Subjects:  []string{"pools.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
