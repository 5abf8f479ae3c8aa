package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"skillchain/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowCreateParams struct {
	ProjectID  string `json:"projectId"`
	Client     string `json:"client"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
	Actor      string `json:"actor"`
}

type escrowFundParams struct {
	ID     uint64 `json:"id"`
	Actor  string `json:"actor"`
	Amount string `json:"amount"`
}

type escrowActorParams struct {
	ID    uint64 `json:"id"`
	Actor string `json:"actor"`
}

type escrowDisputeParams struct {
	ID     uint64 `json:"id"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type escrowResolveParams struct {
	ID                 uint64 `json:"id"`
	Actor              string `json:"actor"`
	ClientShareBps     uint32 `json:"clientShareBps"`
	FreelancerShareBps uint32 `json:"freelancerShareBps"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowProjectParams struct {
	ProjectID string `json:"projectId"`
}

type escrowAddressParams struct {
	Address string `json:"address"`
}

type escrowSetFeeRateParams struct {
	Actor      string `json:"actor"`
	FeeRateBps uint32 `json:"feeRateBps"`
}

type escrowSetFeeRecipientParams struct {
	Actor     string `json:"actor"`
	Recipient string `json:"recipient"`
}

type escrowCreateResult struct {
	ID uint64 `json:"id"`
}

type feePolicyResult struct {
	FeeRateBps   uint32 `json:"feeRateBps"`
	FeeRecipient string `json:"feeRecipient"`
}

type bankBalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type escrowJSON struct {
	ID            uint64 `json:"id"`
	ProjectID     string `json:"projectId"`
	Client        string `json:"client"`
	Freelancer    string `json:"freelancer"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
	DisputeReason string `json:"disputeReason,omitempty"`
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	client, err := parseHexAddress(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	freelancer, err := parseHexAddress(params.Freelancer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := s.ledger.Create(params.ProjectID, client, freelancer, amount, actor)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, escrowCreateResult{ID: id})
	return nil
}

func (s *Server) handleEscrowFund(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowFundParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.ledger.Fund(params.ID, actor, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, "ok")
	return nil
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleEscrowTransition(w, req, s.ledger.Release)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleEscrowTransition(w, req, s.ledger.Refund)
}

func (s *Server) handleEscrowTransition(w http.ResponseWriter, req *RPCRequest, fn func(uint64, common.Address) error) error {
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := fn(params.ID, actor); err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, "ok")
	return nil
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowDisputeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.ledger.Dispute(params.ID, actor, params.Reason); err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, "ok")
	return nil
}

func (s *Server) handleEscrowResolve(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowResolveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.ledger.ResolveDispute(params.ID, actor, params.ClientShareBps, params.FreelancerShareBps); err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, "ok")
	return nil
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	esc, err := s.ledger.GetEscrow(params.ID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
	return nil
}

func (s *Server) handleEscrowListByProject(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowProjectParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	escrows, err := s.ledger.GetEscrowsByProject(params.ProjectID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, formatEscrowList(escrows))
	return nil
}

func (s *Server) handleEscrowListByClient(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleEscrowListByAddress(w, req, s.ledger.GetEscrowsByClient)
}

func (s *Server) handleEscrowListByFreelancer(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleEscrowListByAddress(w, req, s.ledger.GetEscrowsByFreelancer)
}

func (s *Server) handleEscrowListByAddress(w http.ResponseWriter, req *RPCRequest, fn func(common.Address) ([]*escrow.Escrow, error)) error {
	var params escrowAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	addr, err := parseHexAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	escrows, err := fn(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, formatEscrowList(escrows))
	return nil
}

func (s *Server) handleEscrowSetFeeRate(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowSetFeeRateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.ledger.SetFeeRateBps(actor, params.FeeRateBps); err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, "ok")
	return nil
}

func (s *Server) handleEscrowSetFeeRecipient(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowSetFeeRecipientParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	actor, err := parseHexAddress(params.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	recipient, err := parseHexAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.ledger.SetFeeRecipient(actor, recipient); err != nil {
		writeLedgerError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, "ok")
	return nil
}

func (s *Server) handleEscrowFeePolicy(w http.ResponseWriter, req *RPCRequest) error {
	rate, recipient := s.ledger.FeePolicy()
	result := feePolicyResult{FeeRateBps: rate}
	if recipient != (common.Address{}) {
		result.FeeRecipient = recipient.Hex()
	}
	writeResult(w, req.ID, result)
	return nil
}

func (s *Server) handleBankBalance(w http.ResponseWriter, req *RPCRequest) error {
	var params escrowAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	addr, err := parseHexAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return err
	}
	balance, err := s.vault.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return err
	}
	writeResult(w, req.ID, bankBalanceResult{Address: addr.Hex(), Balance: balance.String()})
	return nil
}

func parseHexAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("address required")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	amount := "0"
	if esc.Amount != nil {
		amount = esc.Amount.String()
	}
	return escrowJSON{
		ID:            esc.ID,
		ProjectID:     esc.ProjectID,
		Client:        esc.Client.Hex(),
		Freelancer:    esc.Freelancer.Hex(),
		Amount:        amount,
		Status:        esc.Status.String(),
		CreatedAt:     esc.CreatedAt,
		UpdatedAt:     esc.UpdatedAt,
		DisputeReason: esc.DisputeReason,
	}
}

func formatEscrowList(escrows []*escrow.Escrow) []escrowJSON {
	out := make([]escrowJSON, 0, len(escrows))
	for _, esc := range escrows {
		out = append(out, formatEscrowJSON(esc))
	}
	return out
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidState):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidParty),
		errors.Is(err, escrow.ErrAmountMismatch),
		errors.Is(err, escrow.ErrEmptyReason),
		errors.Is(err, escrow.ErrSharesExceedTotal),
		errors.Is(err, escrow.ErrFeeRateTooHigh),
		errors.Is(err, escrow.ErrInvalidRecipient):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
