package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Simplici0/platecost/internal/batch"
	"github.com/Simplici0/platecost/internal/costing"
	"github.com/Simplici0/platecost/internal/service"
	"github.com/Simplici0/platecost/internal/snapshots"
	"github.com/Simplici0/platecost/internal/store"
	"github.com/Simplici0/platecost/internal/units"
)

// recordEditor is the write side of the record store.
type recordEditor interface {
	UpsertIngredient(ctx context.Context, in store.IngredientRecord) (store.IngredientRecord, error)
	UpsertRecipe(ctx context.Context, r costing.Recipe, lines []costing.Line) (costing.Recipe, []costing.Line, error)
	SetLineYield(ctx context.Context, recipeID, lineID string, yieldPercent float64) error
	SetLineGrossOverride(ctx context.Context, recipeID, lineID string, gross *float64) error
}

type server struct {
	svc      *service.Service
	records  recordEditor
	validate *validator.Validate
	log      zerolog.Logger
}

func newServer(svc *service.Service, records recordEditor, log zerolog.Logger) *server {
	v := validator.New()
	_ = v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		return units.Known(fl.Field().String())
	})
	return &server{
		svc:      svc,
		records:  records,
		validate: v,
		log:      log.With().Str("component", "server").Logger(),
	}
}

type ingredientPayload struct {
	Name                 string  `json:"name" validate:"required"`
	PackUnit             string  `json:"packUnit" validate:"omitempty,unit"`
	PackPrice            float64 `json:"packPrice" validate:"gte=0"`
	PackQty              float64 `json:"packQty" validate:"gte=0"`
	SupplierYieldPercent float64 `json:"supplierYieldPercent" validate:"gte=0,lte=100"`
	Active               *bool   `json:"active"`
}

type linePayload struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind" validate:"required,oneof=ingredient subrecipe group"`
	IngredientID  string   `json:"ingredientId" validate:"required_if=Kind ingredient"`
	SubRecipeID   string   `json:"subRecipeId" validate:"required_if=Kind subrecipe"`
	NetQty        float64  `json:"netQty" validate:"gte=0"`
	Unit          string   `json:"unit" validate:"omitempty,unit"`
	YieldPercent  float64  `json:"yieldPercent" validate:"gte=0,lte=100"`
	GrossOverride *float64 `json:"grossOverride" validate:"omitempty,gt=0"`
	Notes         string   `json:"notes"`
	GroupTitle    string   `json:"groupTitle"`
}

type recipePayload struct {
	Name              string        `json:"name" validate:"required"`
	Portions          int           `json:"portions" validate:"gte=1"`
	IsSubRecipe       bool          `json:"isSubRecipe"`
	YieldQty          float64       `json:"yieldQty" validate:"required_if=IsSubRecipe true,gte=0"`
	YieldUnit         string        `json:"yieldUnit" validate:"required_if=IsSubRecipe true,omitempty,unit"`
	SellingPrice      float64       `json:"sellingPrice" validate:"gte=0"`
	Currency          string        `json:"currency" validate:"omitempty,len=3"`
	TargetFoodCostPct float64       `json:"targetFoodCostPct" validate:"gte=0,lte=100"`
	Lines             []linePayload `json:"lines" validate:"dive"`
}

type yieldPayload struct {
	YieldPercent float64 `json:"yieldPercent" validate:"gt=0,lte=100"`
}

type grossPayload struct {
	GrossOverride *float64 `json:"grossOverride" validate:"omitempty,gt=0"`
}

type outcomeResponse struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Failures  []string `json:"failures"`
}

func newOutcomeResponse(o batch.Outcome) outcomeResponse {
	return outcomeResponse{Succeeded: o.Succeeded, Failed: o.Failed, Failures: o.Messages()}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleRecipeCosts(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListRecipeCosts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   list.Items,
		"outcome": newOutcomeResponse(list.Outcome),
	})
}

func (s *server) handleRecipeCost(w http.ResponseWriter, r *http.Request) {
	rc, err := s.svc.RecipeCost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

func (s *server) handleUpsertRecipe(w http.ResponseWriter, r *http.Request) {
	var p recipePayload
	if err := s.decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}

	recipe := costing.Recipe{
		ID:                chi.URLParam(r, "id"),
		Name:              strings.TrimSpace(p.Name),
		Portions:          p.Portions,
		IsSubRecipe:       p.IsSubRecipe,
		YieldQty:          p.YieldQty,
		YieldUnit:         p.YieldUnit,
		SellingPrice:      p.SellingPrice,
		Currency:          strings.ToUpper(p.Currency),
		TargetFoodCostPct: p.TargetFoodCostPct,
	}
	if recipe.Currency == "" {
		recipe.Currency = "EUR"
	}

	lines := make([]costing.Line, 0, len(p.Lines))
	for _, lp := range p.Lines {
		kind, err := costing.ParseLineKind(lp.Kind)
		if err != nil {
			s.writeError(w, validationError{err.Error()})
			return
		}
		lines = append(lines, costing.Line{
			ID:            lp.ID,
			Kind:          kind,
			IngredientID:  lp.IngredientID,
			SubRecipeID:   lp.SubRecipeID,
			NetQty:        lp.NetQty,
			Unit:          lp.Unit,
			YieldPercent:  lp.YieldPercent,
			GrossOverride: lp.GrossOverride,
			Notes:         lp.Notes,
			GroupTitle:    lp.GroupTitle,
		})
	}

	saved, savedLines, err := s.records.UpsertRecipe(r.Context(), recipe, lines)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipe": saved, "lines": savedLines})
}

func (s *server) handleLineYield(w http.ResponseWriter, r *http.Request) {
	var p yieldPayload
	if err := s.decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.records.SetLineYield(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), p.YieldPercent); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLineGross(w http.ResponseWriter, r *http.Request) {
	var p grossPayload
	if err := s.decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.records.SetLineGrossOverride(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lineID"), p.GrossOverride); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleRecordSnapshot(w http.ResponseWriter, r *http.Request) {
	added, err := s.svc.RecordSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"recorded": added})
}

func (s *server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearHistory(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRemovePoint(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemovePoint(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pointID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUpsertIngredient(w http.ResponseWriter, r *http.Request) {
	var p ingredientPayload
	if err := s.decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}

	active := true
	if p.Active != nil {
		active = *p.Active
	}
	saved, err := s.records.UpsertIngredient(r.Context(), store.IngredientRecord{
		Ingredient: costing.Ingredient{
			ID:       chi.URLParam(r, "id"),
			Name:     strings.TrimSpace(p.Name),
			PackUnit: p.PackUnit,
			Active:   active,
		},
		PackPrice:            p.PackPrice,
		PackQty:              p.PackQty,
		SupplierYieldPercent: p.SupplierYieldPercent,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *server) handleRecalculateIngredients(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.svc.RecalculateIngredientCosts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeResponse(outcome))
}

type validationError struct {
	msg string
}

func (e validationError) Error() string { return e.msg }

func (s *server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return validationError{fmt.Sprintf("invalid JSON body: %v", err)}
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
			}
			return validationError{"invalid payload: " + strings.Join(fields, ", ")}
		}
		return err
	}
	return nil
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr validationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, costing.ErrRecipeNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, snapshots.ErrPointNotFound):
		status = http.StatusNotFound
	case errors.Is(err, snapshots.ErrLockNotObtained),
		errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
