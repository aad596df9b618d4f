package http

import (
	"fmt"
	"strings"
	"time"

	"moneta/internal/core"
	"moneta/internal/storage"
)

// Wire types of the JSON API. Everything is camelCase.

type LoginData struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

type UserInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"fullName"`
}

func newUserInfo(u core.User) UserInfo {
	return UserInfo{ID: u.ID, Name: u.Name, FullName: u.FullName}
}

type SortBy struct {
	Direction string `json:"direction"` // ascending | descending
	Column    string `json:"column"`
}

// QueryRequest drives the table endpoints: paging plus optional needle,
// per-column filters, sort chain and date window.
type QueryRequest struct {
	Page        int64               `json:"page"`
	RowsPerPage int64               `json:"rowsPerPage"`
	Needle      *string             `json:"needle"`
	SortBy      []SortBy            `json:"sortBy"`
	FilterBy    map[string][]string `json:"filterBy"`
	From        *time.Time          `json:"from"`
	To          *time.Time          `json:"to"`
}

type QueryResponse[T any] struct {
	Records             []T    `json:"records"`
	FilteredRecordCount int64  `json:"filteredRecordCount"`
	TotalRecordCount    *int64 `json:"totalRecordCount"`
}

type InfoResponse struct {
	TotalRecordCount int64               `json:"totalRecordCount"`
	FilterHints      map[string][]string `json:"filterHints"`
}

// ExpenseUpsertRequest creates or replaces an expense with its child rows.
type ExpenseUpsertRequest struct {
	Info         core.Expense              `json:"info"`
	Transactions []core.ExpenseTransaction `json:"transactions"`
	Categories   []core.ExpenseCategory    `json:"categories"`
}

func (req ExpenseUpsertRequest) toInput() storage.ExpenseInput {
	return storage.ExpenseInput{
		Info:         req.Info,
		Transactions: req.Transactions,
		Categories:   req.Categories,
	}
}

// toParams validates paging against the configured ceiling and converts the
// request into storage query parameters.
func (req QueryRequest) toParams(maxRowsPerPage int64) (storage.QueryParams, error) {
	if req.RowsPerPage > maxRowsPerPage {
		return storage.QueryParams{}, fmt.Errorf("too many rows per page (%d > %d)", req.RowsPerPage, maxRowsPerPage)
	}
	if req.RowsPerPage <= 0 || req.Page < 0 {
		return storage.QueryParams{}, fmt.Errorf("invalid paging settings")
	}

	p := storage.QueryParams{
		Page:        req.Page,
		RowsPerPage: req.RowsPerPage,
		FilterBy:    req.FilterBy,
		From:        req.From,
		To:          req.To,
	}
	if req.Needle != nil {
		p.Needle = *req.Needle
	}
	for _, sb := range req.SortBy {
		p.SortBy = append(p.SortBy, storage.SortSpec{
			Column:    sb.Column,
			Ascending: strings.EqualFold(sb.Direction, "ascending"),
		})
	}
	return p, nil
}

// totalFor mirrors the filtered count into the total when the query carried
// no restriction beyond paging, sparing the client a second info call.
func totalFor(p storage.QueryParams, filtered int64) *int64 {
	if p.Unfiltered() {
		return &filtered
	}
	return nil
}
