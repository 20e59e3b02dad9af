package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/CMSgov/raf-app/log"
	"github.com/CMSgov/raf-app/raf/constants"
	customErrors "github.com/CMSgov/raf-app/raf/errors"
	"github.com/CMSgov/raf-app/raf/extractor"
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/pipeline"
	"github.com/CMSgov/raf-app/raf/tables"
)

// scoreRequest is the risk-score payload. Exactly one input shape is used,
// checked in order: raw claims (837 and/or EOB), service records, diagnosis
// codes. An empty diagnosis list is still scoreable (demographic-only).
type scoreRequest struct {
	Demographics   models.Demographics    `json:"demographics"`
	Model          string                 `json:"model"`
	DiagnosisCodes []string               `json:"diagnosis_codes"`
	Raw837         []string               `json:"raw_837"`
	EOB            []json.RawMessage      `json:"eob"`
	ServiceRecords []models.ServiceRecord `json:"service_records"`
	Options        map[string]interface{} `json:"options"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func riskScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, &customErrors.ConfigurationError{Msg: "could not decode request body", Err: err})
		return
	}

	variant, err := models.ParseModelVariant(req.Model)
	if err != nil {
		respondError(w, r, err)
		return
	}
	opts, err := pipeline.OptionsFromMap(pipeline.DefaultOptions(), req.Options)
	if err != nil {
		respondError(w, r, err)
		return
	}
	p, err := pipeline.New(opts, log.API)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var result *models.RAFResult
	switch {
	case len(req.Raw837) > 0 || len(req.EOB) > 0:
		inputs := append([]string{}, req.Raw837...)
		for _, doc := range req.EOB {
			inputs = append(inputs, string(doc))
		}
		result, err = p.Run(r.Context(), inputs, req.Demographics, variant)
	case len(req.ServiceRecords) > 0:
		result, err = p.RunFromServiceRecords(r.Context(), req.ServiceRecords, req.Demographics, variant)
	default:
		result, err = p.CalculateFromDiagnoses(r.Context(), req.DiagnosisCodes, req.Demographics, variant)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	render.JSON(w, r, result)
}

type extractRequest struct {
	Raw837 []string          `json:"raw_837"`
	EOB    []json.RawMessage `json:"eob"`
}

func serviceRecords(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, &customErrors.ConfigurationError{Msg: "could not decode request body", Err: err})
		return
	}

	var records []models.ServiceRecord
	for _, envelope := range req.Raw837 {
		recs, err := extractor.ExtractServiceRecords(envelope, log.API)
		if err != nil {
			respondError(w, r, err)
			return
		}
		records = append(records, recs...)
	}
	for _, doc := range req.EOB {
		recs, err := extractor.ExtractEOB(doc)
		if err != nil {
			respondError(w, r, err)
			return
		}
		records = append(records, recs...)
	}
	if records == nil {
		records = []models.ServiceRecord{}
	}

	render.JSON(w, r, records)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := tables.Sample(); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"tables": "error"})
		return
	}
	render.JSON(w, r, map[string]string{"tables": "ok"})
}

func getVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"version": constants.Version})
}

// respondError maps the typed error kinds onto HTTP statuses: configuration
// and envelope problems are the caller's to fix, demographics failures are
// unprocessable, anything else is ours.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr     *customErrors.ConfigurationError
		envErr     *customErrors.MalformedEnvelopeError
		demoErr    *customErrors.InvalidDemographicsError
		requestErr *customErrors.RequestError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &envErr):
		status = http.StatusBadRequest
	case errors.As(err, &demoErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &requestErr):
		status = requestErr.StatusCode
	}

	if status == http.StatusInternalServerError {
		log.API.WithField("uri", r.RequestURI).Error(err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
