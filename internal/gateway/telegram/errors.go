package telegram

import (
	"errors"
	"strings"

	"github.com/gotd/td/tgerr"

	"anthill/pkg/anthill"
)

// staleErrorTypes lists RPC error types that prove the target message or
// peer is gone for good, so retries against the same target cannot succeed.
var staleErrorTypes = map[string]bool{
	"MESSAGE_ID_INVALID": true,
	"CHANNEL_INVALID":    true,
	"CHANNEL_PRIVATE":    true,
	"PEER_ID_INVALID":    true,
	"CHAT_ID_INVALID":    true,
}

func mapOutboundError(operation anthill.OutboundOperation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, anthill.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &anthill.OutboundError{
		Operation: operation,
		Kind:      anthill.OutboundErrorKindUnknown,
		Platform:  anthill.PlatformTelegram,
		Cause:     err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = anthill.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			outboundErr.Code = rpcErr.Code
			outboundErr.Type = rpcErr.Type
		}

		return outboundErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}

	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	outboundErr.Kind = classifyRPCError(rpcErr)
	outboundErr.StaleTarget = staleErrorTypes[strings.ToUpper(strings.TrimSpace(rpcErr.Type))]

	return outboundErr
}

func classifyRPCError(rpcErr *tgerr.Error) anthill.OutboundErrorKind {
	if rpcErr == nil {
		return anthill.OutboundErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return anthill.OutboundErrorKindRateLimited
	}

	switch rpcErr.Code {
	case 303:
		return anthill.OutboundErrorKindTemporary
	case 400, 401, 403, 404, 405, 406:
		return anthill.OutboundErrorKindPermanent
	case 500, 501, 502, 503, 504:
		return anthill.OutboundErrorKindTemporary
	}
	if rpcErr.Code >= 500 {
		return anthill.OutboundErrorKindTemporary
	}

	return anthill.OutboundErrorKindUnknown
}
