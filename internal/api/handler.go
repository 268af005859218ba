// Package api serves the deployment record over HTTP for tooling that wants
// contract addresses without reading the file. It never writes the record.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/gated-faucet/internal/chain"
	"github.com/0gfoundation/gated-faucet/internal/deployer"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

// Loader reads the current record. *store.FileStore satisfies it.
type Loader interface {
	Load() (*store.Record, error)
}

// Handler wires the read routes onto a Gin engine.
type Handler struct {
	records Loader
	ledger  chain.Ledger // nil disables /status
	log     *zap.Logger
}

func NewHandler(records Loader, ledger chain.Ledger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{records: records, ledger: ledger, log: log}
}

// Register mounts all routes. The record is re-read on every request so a
// deploy running alongside the server is picked up.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	rg.GET("/deployments", h.handleRecord)
	rg.GET("/deployments/:role", h.handleRole)
	if h.ledger != nil {
		rg.GET("/status", h.handleStatus)
	}
}

func (h *Handler) load(c *gin.Context) (*store.Record, bool) {
	rec, err := h.records.Load()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no deployment recorded"})
			return nil, false
		}
		h.log.Error("load deployment record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return rec, true
}

func (h *Handler) handleRecord(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleRole(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	role := store.Role(c.Param("role"))
	addr, err := rec.Get(role)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "address": addr.Hex(), "chainId": rec.ChainID})
}

type roleStatus struct {
	Role           store.Role `json:"role"`
	Address        string     `json:"address"`
	Deployed       bool       `json:"deployed"`
	Implementation string     `json:"implementation,omitempty"`
}

func (h *Handler) handleStatus(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if err := rec.CheckChain(h.ledger.ChainID().Uint64()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	sts, err := deployer.Status(c.Request.Context(), h.ledger, rec)
	if err != nil {
		h.log.Error("status", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	out := make([]roleStatus, 0, len(sts))
	for _, st := range sts {
		rs := roleStatus{Role: st.Role, Address: st.Address.Hex(), Deployed: st.Deployed}
		if st.Role == store.RoleFaucetProxy && st.Deployed {
			rs.Implementation = st.Implementation.Hex()
		}
		out = append(out, rs)
	}
	c.JSON(http.StatusOK, gin.H{"chainId": rec.ChainID, "roles": out})
}
