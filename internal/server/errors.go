package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"gemini-relay/internal/models"
	"gemini-relay/internal/provider"
	"gemini-relay/internal/provider/gemini"
	"gemini-relay/internal/translator"
)

type requestError struct {
	Status int
	Body   models.ErrorBody
}

func (e requestError) Error() string {
	return e.Body.Error
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, reqErr.Body)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
		kind := models.KindInvalidRequest
		if he.Code >= http.StatusInternalServerError {
			kind = models.KindInternalError
		}
		_ = c.JSON(he.Code, models.ErrorBody{Error: message, Kind: kind})
		return
	}

	slog.Error("unhandled error", "err", err)
	_ = c.JSON(http.StatusInternalServerError, models.ErrorBody{
		Error:   "Internal server error",
		Kind:    models.KindInternalError,
		Details: err.Error(),
	})
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var invalid *translator.RequestError
	switch {
	case errors.Is(err, gemini.ErrServerMisconfigured):
		slog.Error("gemini api key is not configured")
		return requestError{
			Status: http.StatusInternalServerError,
			Body:   models.ErrorBody{Error: "Server misconfiguration: GEMINI_API_KEY not set", Kind: models.KindServerMisconfigured},
		}
	case errors.As(err, &invalid):
		return requestError{
			Status: http.StatusBadRequest,
			Body:   models.ErrorBody{Error: invalid.Reason, Kind: models.KindInvalidRequest},
		}
	case errors.Is(err, provider.ErrUnknownModel):
		return requestError{
			Status: http.StatusBadRequest,
			Body:   models.ErrorBody{Error: err.Error(), Kind: models.KindInvalidRequest},
		}
	case errors.Is(err, gemini.ErrUpstreamTimeout):
		slog.Warn("gemini request timed out", "err", err)
		return requestError{
			Status: http.StatusGatewayTimeout,
			Body: models.ErrorBody{
				Error:   "Gemini API request timed out",
				Kind:    models.KindUpstreamTimeout,
				Details: err.Error(),
			},
		}
	}

	slog.Error("chat request failed", "err", err)
	return requestError{
		Status: http.StatusInternalServerError,
		Body: models.ErrorBody{
			Error:   "Internal server error",
			Kind:    models.KindInternalError,
			Details: err.Error(),
		},
	}
}

// writeOutcome renders a classified upstream reply. Successful replies are
// returned verbatim; failures become diagnostic error bodies carrying the
// upstream status.
func writeOutcome(c echo.Context, outcome *gemini.Outcome) error {
	if outcome == nil {
		return requestError{
			Status: http.StatusBadGateway,
			Body:   models.ErrorBody{Error: "Gemini API returned no response", Kind: models.KindInternalError},
		}
	}

	switch outcome.Kind {
	case gemini.OutcomeSuccess:
		return c.JSONBlob(http.StatusOK, outcome.Body)

	case gemini.OutcomeUpstreamError:
		slog.Warn("gemini returned an error", "status", outcome.Status)
		return requestError{
			Status: statusOr502(outcome.Status),
			Body: models.ErrorBody{
				Error:  "Gemini API returned an error",
				Kind:   models.KindUpstreamError,
				Status: outcome.Status,
				Body:   outcome.Body,
			},
		}

	default:
		slog.Warn("gemini returned a non-JSON response", "status", outcome.Status)
		statusText := outcome.StatusText
		raw := outcome.Raw
		return requestError{
			Status: statusOr502(outcome.Status),
			Body: models.ErrorBody{
				Error:      "Non-JSON response from Gemini API",
				Kind:       models.KindMalformedUpstreamResponse,
				Status:     outcome.Status,
				StatusText: &statusText,
				Raw:        &raw,
			},
		}
	}
}

func statusOr502(status int) int {
	if status < 100 || status > 599 {
		return http.StatusBadGateway
	}
	return status
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
