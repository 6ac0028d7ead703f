package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var errSoldOut = errors.New("room not available")

func TestWriteMappedError(t *testing.T) {
	mappings := []ErrorMapping{{Target: errSoldOut, Status: http.StatusConflict, Code: ErrCodeRoomNotAvailable}}

	rec := httptest.NewRecorder()
	if !WriteMappedError(rec, fmt.Errorf("creating booking: %w", errSoldOut), mappings) {
		t.Fatal("expected mapping to match")
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body Response[any]
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == nil || body.Error.Code != ErrCodeRoomNotAvailable {
		t.Fatalf("unexpected body %+v", body)
	}

	if WriteMappedError(httptest.NewRecorder(), errors.New("other"), mappings) {
		t.Fatal("unrelated error should not match")
	}
}

type sampleRequest struct {
	RoomID string `json:"room_id" validate:"required"`
	Guests int    `json:"number_of_guests" validate:"gt=0"`
}

func TestDecodeAndValidateReportsJSONNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"number_of_guests":0}`))
	var v sampleRequest
	err := DecodeAndValidate(req, &v)
	if err == nil {
		t.Fatal("expected validation error")
	}

	rec := httptest.NewRecorder()
	ValidationError(rec, err)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body Response[any]
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if _, ok := body.Error.Details["room_id"]; !ok {
		t.Fatalf("expected room_id detail, got %v", body.Error.Details)
	}
	if _, ok := body.Error.Details["number_of_guests"]; !ok {
		t.Fatalf("expected number_of_guests detail, got %v", body.Error.Details)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	page, p := Page(items, PaginationParams{Limit: 2, Offset: 2})
	if len(page) != 2 || page[0] != 3 || !p.HasMore || p.Total != 5 {
		t.Fatalf("unexpected page %v %+v", page, p)
	}
	page, p = Page(items, PaginationParams{Limit: 10, Offset: 9})
	if len(page) != 0 || p.HasMore {
		t.Fatalf("expected empty final page, got %v %+v", page, p)
	}
}

func TestGetPaginationParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&offset=3", nil)
	p := GetPaginationParams(req, 50, 100)
	if p.Limit != 50 || p.Offset != 3 {
		t.Fatalf("unexpected params %+v", p)
	}
}
