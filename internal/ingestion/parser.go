package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"PerpPools/internal/event"
	"PerpPools/internal/market"
	"PerpPools/internal/oracle"
	"PerpPools/internal/request"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed event.Command. The ingestion shell validates, parses, and
// converts raw messages before sending them to the settlement core.
func ParseRawCommand(raw RawCommand, commandType string) (event.Command, error) {
	switch commandType {
	case "RelayPrices":
		return parseRelayPrices(raw.Data)
	case "CreateDeposit":
		return parseCreateDeposit(raw.Data)
	case "ExecuteDeposit":
		return parseExecuteDeposit(raw.Data)
	case "CancelDeposit":
		return parseCancelDeposit(raw.Data)
	case "CreateWithdrawal":
		return parseCreateWithdrawal(raw.Data)
	case "ExecuteWithdrawal":
		return parseExecuteWithdrawal(raw.Data)
	case "CancelWithdrawal":
		return parseCancelWithdrawal(raw.Data)
	case "CreateOrder":
		return parseCreateOrder(raw.Data)
	case "ExecuteOrder":
		return parseExecuteOrder(raw.Data)
	case "CancelOrder":
		return parseCancelOrder(raw.Data)
	case "ClaimFunds":
		return parseClaimFunds(raw.Data)
	case "FundAccount":
		return parseFundAccount(raw.Data)
	case "WithdrawFunds":
		return parseWithdrawFunds(raw.Data)
	case "CreateMarket":
		return parseCreateMarket(raw.Data)
	case "UpdateMarketConfig":
		return parseUpdateMarketConfig(raw.Data)
	case "RemoveMarket":
		return parseRemoveMarket(raw.Data)
	case "SetParameter":
		return parseSetParameter(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type priceReportJSON struct {
	Token     string `json:"token"`
	Price     int64  `json:"price"`
	Provider  string `json:"provider"`
	Timestamp int64  `json:"timestamp"`
}

func liftReports(reports []priceReportJSON) []oracle.PriceReport {
	out := make([]oracle.PriceReport, 0, len(reports))
	for _, r := range reports {
		out = append(out, oracle.PriceReport{
			Token:     r.Token,
			Price:     r.Price,
			Provider:  r.Provider,
			Timestamp: r.Timestamp,
		})
	}
	return out
}

type relayPricesJSON struct {
	CommandID     string            `json:"command_id"`
	Provider      string            `json:"provider"`
	Reports       []priceReportJSON `json:"reports"`
	PriceSequence int64             `json:"price_sequence"`
	Timestamp     int64             `json:"timestamp"`
}

func parseRelayPrices(data []byte) (*event.RelayPrices, error) {
	var j relayPricesJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RelayPrices: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	return &event.RelayPrices{
		CommandID:     commandID,
		Provider:      j.Provider,
		Reports:       liftReports(j.Reports),
		PriceSequence: j.PriceSequence,
		Timestamp:     j.Timestamp,
	}, nil
}

type createDepositJSON struct {
	CommandID         string   `json:"command_id"`
	Owner             string   `json:"owner"`
	Market            string   `json:"market"`
	LongAmount        int64    `json:"long_amount"`
	ShortAmount       int64    `json:"short_amount"`
	InitialLongToken  string   `json:"initial_long_token"`
	InitialShortToken string   `json:"initial_short_token"`
	LongSwapPath      []string `json:"long_swap_path"`
	ShortSwapPath     []string `json:"short_swap_path"`
	ExecutionFee      int64    `json:"execution_fee"`
	CancelOnError     bool     `json:"cancel_on_error"`
	Sequence          int64    `json:"sequence"`
	Timestamp         int64    `json:"timestamp"`
}

func parseCreateDeposit(data []byte) (*event.CreateDeposit, error) {
	var j createDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateDeposit: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.CreateDeposit{
		CommandID:         commandID,
		Owner:             owner,
		Market:            j.Market,
		LongAmount:        j.LongAmount,
		ShortAmount:       j.ShortAmount,
		InitialLongToken:  j.InitialLongToken,
		InitialShortToken: j.InitialShortToken,
		LongSwapPath:      j.LongSwapPath,
		ShortSwapPath:     j.ShortSwapPath,
		ExecutionFee:      j.ExecutionFee,
		CancelOnError:     j.CancelOnError,
		Sequence:          j.Sequence,
		Timestamp:         j.Timestamp,
	}, nil
}

type executeJSON struct {
	CommandID string            `json:"command_id"`
	Keeper    string            `json:"keeper"`
	Owner     string            `json:"owner"`
	Nonce     uint64            `json:"nonce"`
	Market    string            `json:"market"`
	Reports   []priceReportJSON `json:"reports"`
	Sequence  int64             `json:"sequence"`
	Timestamp int64             `json:"timestamp"`
}

func (j *executeJSON) ids() (commandID, keeper, owner uuid.UUID, err error) {
	if commandID, err = uuid.Parse(j.CommandID); err != nil {
		return commandID, keeper, owner, fmt.Errorf("parse command_id: %w", err)
	}
	if keeper, err = uuid.Parse(j.Keeper); err != nil {
		return commandID, keeper, owner, fmt.Errorf("parse keeper: %w", err)
	}
	if owner, err = uuid.Parse(j.Owner); err != nil {
		return commandID, keeper, owner, fmt.Errorf("parse owner: %w", err)
	}
	return commandID, keeper, owner, nil
}

func parseExecuteDeposit(data []byte) (*event.ExecuteDeposit, error) {
	var j executeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExecuteDeposit: %w", err)
	}
	commandID, keeper, owner, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.ExecuteDeposit{
		CommandID: commandID,
		Keeper:    keeper,
		Owner:     owner,
		Nonce:     j.Nonce,
		Market:    j.Market,
		Prices:    liftReports(j.Reports),
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type cancelJSON struct {
	CommandID string `json:"command_id"`
	Initiator string `json:"initiator"`
	Owner     string `json:"owner"`
	Nonce     uint64 `json:"nonce"`
	Market    string `json:"market"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func (j *cancelJSON) ids() (commandID, initiator, owner uuid.UUID, err error) {
	if commandID, err = uuid.Parse(j.CommandID); err != nil {
		return commandID, initiator, owner, fmt.Errorf("parse command_id: %w", err)
	}
	if initiator, err = uuid.Parse(j.Initiator); err != nil {
		return commandID, initiator, owner, fmt.Errorf("parse initiator: %w", err)
	}
	if owner, err = uuid.Parse(j.Owner); err != nil {
		return commandID, initiator, owner, fmt.Errorf("parse owner: %w", err)
	}
	return commandID, initiator, owner, nil
}

func parseCancelDeposit(data []byte) (*event.CancelDeposit, error) {
	var j cancelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelDeposit: %w", err)
	}
	commandID, initiator, owner, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.CancelDeposit{
		CommandID: commandID,
		Initiator: initiator,
		Owner:     owner,
		Nonce:     j.Nonce,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type createWithdrawalJSON struct {
	CommandID     string   `json:"command_id"`
	Owner         string   `json:"owner"`
	Market        string   `json:"market"`
	ShareAmount   int64    `json:"share_amount"`
	LongSwapPath  []string `json:"long_swap_path"`
	ShortSwapPath []string `json:"short_swap_path"`
	ExecutionFee  int64    `json:"execution_fee"`
	CancelOnError bool     `json:"cancel_on_error"`
	Sequence      int64    `json:"sequence"`
	Timestamp     int64    `json:"timestamp"`
}

func parseCreateWithdrawal(data []byte) (*event.CreateWithdrawal, error) {
	var j createWithdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateWithdrawal: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.CreateWithdrawal{
		CommandID:     commandID,
		Owner:         owner,
		Market:        j.Market,
		ShareAmount:   j.ShareAmount,
		LongSwapPath:  j.LongSwapPath,
		ShortSwapPath: j.ShortSwapPath,
		ExecutionFee:  j.ExecutionFee,
		CancelOnError: j.CancelOnError,
		Sequence:      j.Sequence,
		Timestamp:     j.Timestamp,
	}, nil
}

func parseExecuteWithdrawal(data []byte) (*event.ExecuteWithdrawal, error) {
	var j executeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExecuteWithdrawal: %w", err)
	}
	commandID, keeper, owner, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.ExecuteWithdrawal{
		CommandID: commandID,
		Keeper:    keeper,
		Owner:     owner,
		Nonce:     j.Nonce,
		Market:    j.Market,
		Prices:    liftReports(j.Reports),
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseCancelWithdrawal(data []byte) (*event.CancelWithdrawal, error) {
	var j cancelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelWithdrawal: %w", err)
	}
	commandID, initiator, owner, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.CancelWithdrawal{
		CommandID: commandID,
		Initiator: initiator,
		Owner:     owner,
		Nonce:     j.Nonce,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type createOrderJSON struct {
	CommandID            string   `json:"command_id"`
	Owner                string   `json:"owner"`
	Market               string   `json:"market"`
	Kind                 string   `json:"kind"`
	IsLong               bool     `json:"is_long"`
	InitialToken         string   `json:"initial_token"`
	InitialAmount        int64    `json:"initial_amount"`
	SwapPath             []string `json:"swap_path"`
	CollateralToken      string   `json:"collateral_token"`
	SizeDeltaUsd         int64    `json:"size_delta_usd"`
	CollateralWithdrawal int64    `json:"collateral_withdrawal"`
	MinOutputAmount      int64    `json:"min_output_amount"`
	AcceptablePrice      int64    `json:"acceptable_price"`
	ExecutionFee         int64    `json:"execution_fee"`
	CancelOnError        bool     `json:"cancel_on_error"`
	DeferPayout          bool     `json:"defer_payout"`
	Sequence             int64    `json:"sequence"`
	Timestamp            int64    `json:"timestamp"`
}

func parseCreateOrder(data []byte) (*event.CreateOrder, error) {
	var j createOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateOrder: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	kind := request.OrderKind(j.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid order kind: %s", j.Kind)
	}
	return &event.CreateOrder{
		CommandID:            commandID,
		Owner:                owner,
		Market:               j.Market,
		Kind:                 kind,
		IsLong:               j.IsLong,
		InitialToken:         j.InitialToken,
		InitialAmount:        j.InitialAmount,
		SwapPath:             j.SwapPath,
		CollateralToken:      j.CollateralToken,
		SizeDeltaUsd:         j.SizeDeltaUsd,
		CollateralWithdrawal: j.CollateralWithdrawal,
		MinOutputAmount:      j.MinOutputAmount,
		AcceptablePrice:      j.AcceptablePrice,
		ExecutionFee:         j.ExecutionFee,
		CancelOnError:        j.CancelOnError,
		DeferPayout:          j.DeferPayout,
		Sequence:             j.Sequence,
		Timestamp:            j.Timestamp,
	}, nil
}

func parseExecuteOrder(data []byte) (*event.ExecuteOrder, error) {
	var j executeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExecuteOrder: %w", err)
	}
	commandID, keeper, owner, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.ExecuteOrder{
		CommandID: commandID,
		Keeper:    keeper,
		Owner:     owner,
		Nonce:     j.Nonce,
		Market:    j.Market,
		Prices:    liftReports(j.Reports),
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseCancelOrder(data []byte) (*event.CancelOrder, error) {
	var j cancelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelOrder: %w", err)
	}
	commandID, initiator, owner, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.CancelOrder{
		CommandID: commandID,
		Initiator: initiator,
		Owner:     owner,
		Nonce:     j.Nonce,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type claimFundsJSON struct {
	CommandID string `json:"command_id"`
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Bucket    int64  `json:"bucket"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseClaimFunds(data []byte) (*event.ClaimFunds, error) {
	var j claimFundsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimFunds: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.ClaimFunds{
		CommandID: commandID,
		Owner:     owner,
		Token:     j.Token,
		Bucket:    j.Bucket,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type fundAccountJSON struct {
	CommandID string `json:"command_id"`
	Keeper    string `json:"keeper"`
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Amount    int64  `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseFundAccount(data []byte) (*event.FundAccount, error) {
	var j fundAccountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundAccount: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	keeper, err := uuid.Parse(j.Keeper)
	if err != nil {
		return nil, fmt.Errorf("parse keeper: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.FundAccount{
		CommandID: commandID,
		Keeper:    keeper,
		Owner:     owner,
		Token:     j.Token,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type withdrawFundsJSON struct {
	CommandID string `json:"command_id"`
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Amount    int64  `json:"amount"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseWithdrawFunds(data []byte) (*event.WithdrawFunds, error) {
	var j withdrawFundsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawFunds: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.WithdrawFunds{
		CommandID: commandID,
		Owner:     owner,
		Token:     j.Token,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type marketConfigJSON struct {
	SwapFeeFactorPositive int64 `json:"swap_fee_factor_positive"`
	SwapFeeFactorNegative int64 `json:"swap_fee_factor_negative"`
	ImpactFactorPositive  int64 `json:"impact_factor_positive"`
	ImpactFactorNegative  int64 `json:"impact_factor_negative"`
	FundingFactor         int64 `json:"funding_factor"`
	BorrowingFactor       int64 `json:"borrowing_factor"`
	ReserveFactor         int64 `json:"reserve_factor"`
}

func (j marketConfigJSON) lift() market.Config {
	return market.Config{
		SwapFeeFactorPositive: j.SwapFeeFactorPositive,
		SwapFeeFactorNegative: j.SwapFeeFactorNegative,
		ImpactFactorPositive:  j.ImpactFactorPositive,
		ImpactFactorNegative:  j.ImpactFactorNegative,
		FundingFactor:         j.FundingFactor,
		BorrowingFactor:       j.BorrowingFactor,
		ReserveFactor:         j.ReserveFactor,
	}
}

type createMarketJSON struct {
	CommandID  string           `json:"command_id"`
	Actor      string           `json:"actor"`
	Market     string           `json:"market"`
	IndexToken string           `json:"index_token"`
	LongToken  string           `json:"long_token"`
	ShortToken string           `json:"short_token"`
	Config     marketConfigJSON `json:"config"`
	Sequence   int64            `json:"sequence"`
	Timestamp  int64            `json:"timestamp"`
}

func parseCreateMarket(data []byte) (*event.CreateMarket, error) {
	var j createMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateMarket: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	actor, err := uuid.Parse(j.Actor)
	if err != nil {
		return nil, fmt.Errorf("parse actor: %w", err)
	}
	return &event.CreateMarket{
		CommandID:  commandID,
		Actor:      actor,
		Market:     j.Market,
		IndexToken: j.IndexToken,
		LongToken:  j.LongToken,
		ShortToken: j.ShortToken,
		Config:     j.Config.lift(),
		Sequence:   j.Sequence,
		Timestamp:  j.Timestamp,
	}, nil
}

type updateMarketConfigJSON struct {
	CommandID string           `json:"command_id"`
	Actor     string           `json:"actor"`
	Market    string           `json:"market"`
	Config    marketConfigJSON `json:"config"`
	Enabled   bool             `json:"enabled"`
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
}

func parseUpdateMarketConfig(data []byte) (*event.UpdateMarketConfig, error) {
	var j updateMarketConfigJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdateMarketConfig: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	actor, err := uuid.Parse(j.Actor)
	if err != nil {
		return nil, fmt.Errorf("parse actor: %w", err)
	}
	return &event.UpdateMarketConfig{
		CommandID: commandID,
		Actor:     actor,
		Market:    j.Market,
		Config:    j.Config.lift(),
		Enabled:   j.Enabled,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type removeMarketJSON struct {
	CommandID string `json:"command_id"`
	Actor     string `json:"actor"`
	Market    string `json:"market"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseRemoveMarket(data []byte) (*event.RemoveMarket, error) {
	var j removeMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveMarket: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	actor, err := uuid.Parse(j.Actor)
	if err != nil {
		return nil, fmt.Errorf("parse actor: %w", err)
	}
	return &event.RemoveMarket{
		CommandID: commandID,
		Actor:     actor,
		Market:    j.Market,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type setParameterJSON struct {
	CommandID string `json:"command_id"`
	Actor     string `json:"actor"`
	Key       string `json:"key"`
	IntValue  int64  `json:"int_value"`
	StrValue  string `json:"str_value"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func parseSetParameter(data []byte) (*event.SetParameter, error) {
	var j setParameterJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetParameter: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	actor, err := uuid.Parse(j.Actor)
	if err != nil {
		return nil, fmt.Errorf("parse actor: %w", err)
	}
	return &event.SetParameter{
		CommandID: commandID,
		Actor:     actor,
		Key:       j.Key,
		IntValue:  j.IntValue,
		StrValue:  j.StrValue,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}
