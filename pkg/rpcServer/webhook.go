package rpcServer

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/copperlabs/engine/pkg/metrics/metricsTypes"
	"github.com/copperlabs/engine/pkg/sellDetector"
	"go.uber.org/zap"
)

// maxWebhookBody bounds a delivery of MaxBatchSize enhanced transactions.
const maxWebhookBody = 4 << 20

type WebhookResponse struct {
	Success   bool                      `json:"success"`
	Message   string                    `json:"message"`
	Processed int                       `json:"processed"`
	Result    *sellDetector.BatchResult `json:"result"`
}

type WebhookStatusResponse struct {
	Configured            bool   `json:"configured"`
	SignatureVerification string `json:"signature_verification,omitempty"`
}

func (rpc *RpcServer) webhookMetric(status string) {
	_ = rpc.metricsSink.Incr(metricsTypes.Metric_Incr_WebhookReceived, []metricsTypes.MetricsLabel{
		{Name: "status", Value: status},
	}, 1)
}

func (rpc *RpcServer) handleHeliusWebhook(w http.ResponseWriter, r *http.Request) {
	if rpc.config.WebhookSecret == "" || rpc.transactions == nil {
		rpc.Logger.Sugar().Errorw("Webhook secret not configured, rejecting delivery")
		rpc.webhookMetric("unconfigured")
		writeError(w, http.StatusServiceUnavailable, "webhook_not_configured", "webhook endpoint is not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rpc.webhookMetric("too_large")
			writeError(w, http.StatusBadRequest, "payload_too_large", "webhook payload is too large")
			return
		}
		rpc.webhookMetric("invalid_payload")
		writeError(w, http.StatusBadRequest, "invalid_payload", "failed to read request body")
		return
	}

	if err := sellDetector.VerifySignature(body, r.Header.Get(sellDetector.SignatureHeader), rpc.config.WebhookSecret); err != nil {
		rpc.Logger.Sugar().Warnw("Rejected webhook with invalid signature",
			zap.String("remoteIp", clientIP(r)),
		)
		rpc.webhookMetric("invalid_signature")
		writeError(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
		return
	}

	txs, err := sellDetector.DecodeBatch(body)
	if err != nil {
		if errors.Is(err, sellDetector.ErrBatchTooLarge) {
			rpc.webhookMetric("batch_too_large")
			writeError(w, http.StatusBadRequest, "batch_too_large",
				fmt.Sprintf("batch too large, maximum %d transactions per request", sellDetector.MaxBatchSize))
			return
		}
		rpc.webhookMetric("invalid_payload")
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload")
		return
	}

	res := rpc.transactions.HandleTransactions(r.Context(), txs)
	rpc.webhookMetric("accepted")

	msg := fmt.Sprintf("Processed %d sell transactions", res.Sells)
	if res.Errors > 0 {
		msg = fmt.Sprintf("%s (%d errors)", msg, res.Errors)
	}
	writeJSON(w, http.StatusOK, &WebhookResponse{
		Success:   true,
		Message:   msg,
		Processed: res.Sells,
		Result:    res,
	})
}

func (rpc *RpcServer) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	if rpc.config.WebhookSecret == "" {
		writeJSON(w, http.StatusOK, &WebhookStatusResponse{Configured: false})
		return
	}
	writeJSON(w, http.StatusOK, &WebhookStatusResponse{Configured: true, SignatureVerification: "enabled"})
}
