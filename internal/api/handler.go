// Package api exposes the pseudonymization engine over HTTP.
package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/hl7deid/hl7deid/internal/deid/engine"
	"github.com/hl7deid/hl7deid/internal/hl7"
	"github.com/hl7deid/hl7deid/internal/msgindex"
)

type Handler struct {
	engine *engine.Engine
	index  *msgindex.Service
}

func NewHandler(eng *engine.Engine, index *msgindex.Service) *Handler {
	return &Handler{engine: eng, index: index}
}

// Register mounts the API routes on a group (normally /api/v1).
func (h *Handler) Register(g *echo.Group) {
	g.POST("/deidentify", h.Deidentify)
	g.POST("/terser", h.Terser)
	g.GET("/messages", h.SearchMessages)
}

type deidentifyResponse struct {
	ControlID       string `json:"controlId"`
	PseudoControlID string `json:"pseudoControlId"`
	Message         string `json:"message"`
}

// Deidentify accepts one raw HL7 message, as a text body or a multipart
// "file" part, and returns the pseudonymized rendering. A failed message is
// reported by reason only; the original content is never echoed.
func (h *Handler) Deidentify(c echo.Context) error {
	raw, filename, err := readMessage(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(raw) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty request body")
	}

	res, err := h.engine.ProcessMessage(c.Request().Context(), raw, filename)
	if err != nil {
		log.Error().Err(err).Msg("deidentification failed")
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	return c.JSON(http.StatusOK, deidentifyResponse{
		ControlID:       res.ControlID,
		PseudoControlID: res.PseudoControlID,
		Message:         hl7.Encode(res.Message),
	})
}

func readMessage(c echo.Context) ([]byte, string, error) {
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		return raw, file.Filename, err
	}
	raw, err := io.ReadAll(c.Request().Body)
	return raw, "", err
}

type terserRequest struct {
	Msg    string `json:"msg"`
	Terser string `json:"terser"`
}

type terserResponse struct {
	Result string `json:"result"`
}

// Terser evaluates a terser path against a submitted message. Evaluation
// problems are returned as the result string, not as HTTP errors, so the
// endpoint can be used to probe for absent structure.
func (h *Handler) Terser(c echo.Context) error {
	var req terserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := hl7.Parse([]byte(req.Msg))
	if err != nil {
		return c.JSON(http.StatusOK, terserResponse{Result: err.Error()})
	}
	v, err := m.Get(req.Terser)
	if err != nil {
		return c.JSON(http.StatusOK, terserResponse{Result: err.Error()})
	}
	return c.JSON(http.StatusOK, terserResponse{Result: v})
}

// SearchMessages filters the message index on any combination of patient ID,
// case ID, message type, and trigger.
func (h *Handler) SearchMessages(c echo.Context) error {
	items, err := h.index.Search(c.Request().Context(), msgindex.Filter{
		PatientID: c.QueryParam("patientId"),
		CaseID:    c.QueryParam("caseId"),
		MsgType:   c.QueryParam("msgType"),
		Trigger:   c.QueryParam("trigger"),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, m := range items {
		out = append(out, map[string]interface{}{
			"controlId":       m.ControlID,
			"pseudoControlId": m.PseudoControlID,
			"msgType":         m.MsgType,
			"trigger":         m.Trigger,
			"structure":       m.Structure,
			"patientId":       m.PatientID,
			"caseId":          m.CaseID,
			"filename":        m.Filename,
			"indexedAt":       m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"total": len(out), "items": out})
}
