package handler

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrimonium/ressarcimentos/internal/domain"
	"github.com/patrimonium/ressarcimentos/internal/importer"
	"github.com/patrimonium/ressarcimentos/internal/service"
)

// ============================================================
// 5. Importação & administração
// ============================================================

// importHandler accepts the CSV either as the raw body or as the "arquivo"
// field of a multipart form.
func importHandler(imp *importer.Importer, maxBytes int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/importacao/{tipo}")
		defer span.End()

		kind, err := importer.ParseKind(chi.URLParam(r, "tipo"))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		span.SetAttributes(attribute.String("import.kind", string(kind)))

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		data, err := readUpload(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "arquivo excede o tamanho máximo")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
			return
		}

		report, err := imp.Import(ctx, kind, bytes.NewReader(data))
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}
	file, _, err := r.FormFile("arquivo")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func resetHandler(svc *service.PortfolioService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/reset")
		defer span.End()

		var req domain.ResetRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := svc.ResetAll(ctx, req.Confirmation); err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		logger.Warn("reset requested over http", zap.String("remote_addr", r.RemoteAddr))
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "base de dados limpa"})
	}
}
