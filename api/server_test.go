package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	gin.SetMode(gin.TestMode)
}

func setupServer(t *testing.T) *gin.Engine {
	t.Helper()

	config := ServerConfig{}
	config.DB.File = filepath.Join(t.TempDir(), "auctionhouse.db")
	server, err := NewServer(config)
	require.NoError(t, err)
	t.Cleanup(server.Close)

	router := gin.New()
	server.RegisterRoutes(router)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createListing(t *testing.T, router *gin.Engine, sellerID uuid.UUID) uuid.UUID {
	t.Helper()

	body := fmt.Sprintf(`{"sellerId":%q,"item":{"name":"sword"},"kind":"auction","startPrice":100,"durationSeconds":3600}`, sellerID)
	w := doJSON(router, http.MethodPost, "/market/listings", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/market/listings/"+resp.ID.String(), w.Header().Get("Location"))
	return resp.ID
}

func TestPostListing(t *testing.T) {
	router := setupServer(t)
	sellerID := uuid.New()

	t.Run("valid listing", func(t *testing.T) {
		createListing(t, router, sellerID)
	})
	t.Run("missing fields", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/market/listings", `{"sellerId":"not-a-uuid"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("invalid duration", func(t *testing.T) {
		body := fmt.Sprintf(`{"sellerId":%q,"item":"x","kind":"auction","startPrice":100,"durationSeconds":-1}`, sellerID)
		w := doJSON(router, http.MethodPost, "/market/listings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("unknown kind", func(t *testing.T) {
		body := fmt.Sprintf(`{"sellerId":%q,"item":"x","kind":"raffle","startPrice":100,"durationSeconds":3600}`, sellerID)
		w := doJSON(router, http.MethodPost, "/market/listings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetListings(t *testing.T) {
	router := setupServer(t)
	sellerID := uuid.New()

	t.Run("empty market", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/market/listings", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	listingID := createListing(t, router, sellerID)

	t.Run("browse", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/market/listings", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Count int `json:"count"`
			Items []struct {
				ID           uuid.UUID `json:"id"`
				CurrentPrice int64     `json:"currentPrice"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, listingID, resp.Items[0].ID)
		assert.Equal(t, int64(100), resp.Items[0].CurrentPrice)
	})
	t.Run("filter excludes other sellers", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/market/listings?sellerId="+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("invalid filter", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/market/listings?sellerId=oops", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("details include the item", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/market/listings/"+listingID.String(), "")
		require.Equal(t, http.StatusOK, w.Code)

		var view struct {
			ID   uuid.UUID      `json:"id"`
			Item map[string]any `json:"item"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, listingID, view.ID)
		assert.Equal(t, "sword", view.Item["name"])
	})
	t.Run("unknown listing", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/market/listings/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPostBid(t *testing.T) {
	router := setupServer(t)
	sellerID := uuid.New()
	listingID := createListing(t, router, sellerID)

	t.Run("bidder without funds", func(t *testing.T) {
		body := fmt.Sprintf(`{"bidderId":%q,"amount":150}`, uuid.New())
		w := doJSON(router, http.MethodPost, "/market/listings/"+listingID.String()+"/bids", body)
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
	})
	t.Run("seller bids on own listing", func(t *testing.T) {
		body := fmt.Sprintf(`{"bidderId":%q,"amount":150}`, sellerID)
		w := doJSON(router, http.MethodPost, "/market/listings/"+listingID.String()+"/bids", body)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
	t.Run("unknown listing", func(t *testing.T) {
		body := fmt.Sprintf(`{"bidderId":%q,"amount":150}`, uuid.New())
		w := doJSON(router, http.MethodPost, "/market/listings/"+uuid.NewString()+"/bids", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("malformed body", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/market/listings/"+listingID.String()+"/bids", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCancelAndCollect(t *testing.T) {
	router := setupServer(t)
	sellerID := uuid.New()
	listingID := createListing(t, router, sellerID)

	t.Run("stranger cannot cancel", func(t *testing.T) {
		w := doJSON(router, http.MethodDelete, "/market/listings/"+listingID.String()+"?requesterId="+uuid.NewString(), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
	t.Run("admin override", func(t *testing.T) {
		other := createListing(t, router, sellerID)
		w := doJSON(router, http.MethodDelete, "/market/listings/"+other.String()+"?requesterId="+uuid.NewString()+"&admin=true", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("seller cancels", func(t *testing.T) {
		w := doJSON(router, http.MethodDelete, "/market/listings/"+listingID.String()+"?requesterId="+sellerID.String(), "")
		require.Equal(t, http.StatusOK, w.Code)

		// 取消後上架消失
		w = doJSON(router, http.MethodGet, "/market/listings/"+listingID.String(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
	t.Run("cancellation is recorded", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/market/transactions?listingId="+listingID.String(), "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Count   int `json:"count"`
			Records []struct {
				Seq  uint64 `json:"Seq"`
				Kind string `json:"Kind"`
			} `json:"records"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "CANCELLATION", resp.Records[0].Kind)
	})
	t.Run("seller collects the returned item", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/participants/"+sellerID.String()+"/claims/collect", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Count  int `json:"count"`
			Claims []struct {
				ListingID uuid.UUID      `json:"listingId"`
				Kind      string         `json:"kind"`
				Item      map[string]any `json:"item"`
			} `json:"claims"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, listingID, resp.Claims[0].ListingID)
		assert.Equal(t, "item", resp.Claims[0].Kind)
		assert.Equal(t, "sword", resp.Claims[0].Item["name"])
	})
}

func TestParticipantEndpoints(t *testing.T) {
	router := setupServer(t)
	participantID := uuid.New()

	w := doJSON(router, http.MethodPost, "/participants/"+participantID.String()+"/connect", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/participants/"+participantID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		ID            uuid.UUID `json:"id"`
		Balance       int64     `json:"balance"`
		PendingClaims int       `json:"pendingClaims"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, participantID, resp.ID)
	assert.Zero(t, resp.Balance)
	assert.Zero(t, resp.PendingClaims)

	w = doJSON(router, http.MethodPost, "/participants/"+participantID.String()+"/disconnect", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/participants/oops", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTransactions_InvalidFilters(t *testing.T) {
	router := setupServer(t)

	w := doJSON(router, http.MethodGet, "/market/transactions?participantId=oops", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(router, http.MethodGet, "/market/transactions?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(router, http.MethodGet, "/market/transactions?from="+time.Now().UTC().Format(time.RFC3339), "")
	assert.Equal(t, http.StatusOK, w.Code)
}
