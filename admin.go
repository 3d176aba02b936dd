package main

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// adminServer is the Admin Interface of spec.md §4.6/§6: a small HTTP surface exposing the
// config-key get/set table (including the read-only showBL listing) and the one-shot commands
// (uLoad/vLoad/wLoad/zLoad/xStop/zzCustom),
// grounded on the gin usage in other_examples' rafalfr-dnsproxy main.go. It also implements
// ProgressSink so the Blocklist Loader can publish status without importing this package's types.
type adminServer struct {
	ab     *adBlocker
	engine *gin.Engine

	progressPct    atomic.Int64
	progressStatus atomic.Value // string
}

func newAdminServer(ab *adBlocker) *adminServer {
	if ab.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &adminServer{ab: ab, engine: gin.New()}
	s.progressStatus.Store("")
	s.routes()
	return s
}

// PublishProgress implements ProgressSink.
func (s *adminServer) PublishProgress(percent int) {
	s.progressPct.Store(int64(percent))
}

// PublishStatus implements ProgressSink.
func (s *adminServer) PublishStatus(status string) {
	s.progressStatus.Store(status)
}

func (s *adminServer) routes() {
	s.engine.GET("/config/:key", s.getConfigKey)
	s.engine.POST("/config/:key", s.setConfigKey)
	s.engine.POST("/command/:name", s.runCommand)
}

// getConfigKey reports the current value of one of spec.md §6's admin keys.
func (s *adminServer) getConfigKey(c *gin.Context) {
	key := c.Param("key")
	switch key {
	case "ST_ns1":
		c.JSON(http.StatusOK, gin.H{"value": nsAddress(s.ab.nameservers, 0)})
	case "ST_ns2":
		c.JSON(http.StatusOK, gin.H{"value": nsAddress(s.ab.nameservers, 1)})
	case "maxDomains":
		c.JSON(http.StatusOK, gin.H{"value": s.ab.cfg.MaxDomains})
	case "minMemory":
		c.JSON(http.StatusOK, gin.H{"value": s.ab.cfg.MinMemory})
	case "maxDomLen":
		c.JSON(http.StatusOK, gin.H{"value": s.ab.cfg.MaxDomLen})
	case "alarmHour":
		c.JSON(http.StatusOK, gin.H{"value": s.ab.cfg.AlarmHour})
	case "fileURLc":
		c.JSON(http.StatusOK, gin.H{"value": s.ab.cfg.PrimaryBlocklistURL})
	case "loadProg":
		c.JSON(http.StatusOK, gin.H{"value": s.progressStatus.Load(), "percent": s.progressPct.Load()})
	case "blockCnt":
		c.JSON(http.StatusOK, gin.H{"value": s.ab.blockCnt.Load()})
	case "allowCnt":
		c.JSON(http.StatusOK, gin.H{"value": s.ab.allowCnt.Load()})
	case "showBL":
		s.ab.idxMu.RLock()
		names := s.ab.idx.snapshot()
		s.ab.idxMu.RUnlock()
		c.JSON(http.StatusOK, gin.H{"domains": names, "count": len(names)})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown config key"})
	}
}

// setConfigKey mutates a subset of the admin keys at runtime. fileURLc and maxDomains take effect
// on the next reload. minMemory is stored and reported but does not size anything; the storage
// arena is sized by StorageSize. alarmHour is stored, but the running scheduler keeps the hour it
// was started with until the process restarts.
func (s *adminServer) setConfigKey(c *gin.Context) {
	key := c.Param("key")
	var body struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch key {
	case "alarmHour":
		hour, err := strconv.Atoi(body.Value)
		if err != nil || hour < 0 || hour > 23 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "alarmHour must be 0-23"})
			return
		}
		s.ab.cfg.AlarmHour = hour
	case "fileURLc":
		s.ab.cfg.PrimaryBlocklistURL = body.Value
	case "maxDomains":
		n, err := strconv.Atoi(body.Value)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "maxDomains must be a positive integer"})
			return
		}
		s.ab.cfg.MaxDomains = n
	case "minMemory":
		n, err := strconv.Atoi(body.Value)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minMemory must be non-negative"})
			return
		}
		s.ab.cfg.MinMemory = n
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or read-only config key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// runCommand dispatches the one-shot admin commands of spec.md §6's command table: uLoad adds a
// custom override (add-if-resolves), vLoad deletes one, wLoad checks without mutating, zLoad
// triggers a full blocklist reload, xStop cancels an in-progress load, zzCustom clears the
// overrides file.
func (s *adminServer) runCommand(c *gin.Context) {
	name := c.Param("name")
	var body struct {
		Domain string `json:"domain"`
		URL    string `json:"url"`
	}
	_ = c.ShouldBindJSON(&body)

	switch name {
	case "uLoad":
		s.handleULoad(c, body.Domain)
	case "vLoad":
		s.handleVLoad(c, body.Domain)
	case "wLoad":
		s.handleWLoad(c, body.Domain)
	case "zLoad":
		if body.URL != "" {
			s.ab.cfg.PrimaryBlocklistURL = body.URL
			s.ab.fileURL.Store(body.URL)
		}
		go func() {
			if err := s.ab.loadBlockLists(s.ab.defaultSources()); err != nil {
				s.ab.log.errorLog("admin-triggered reload failed", zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	case "xStop":
		s.ab.stopLoad.Store(true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case "zzCustom":
		if err := s.ab.overrides.clear(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown command"})
	}
}

// handleULoad resolves domain and, if it resolves, adds it to both the live index and the
// overrides file, mirroring checkDomain's uLoad "add only if it resolves" semantics.
func (s *adminServer) handleULoad(c *gin.Context, domain string) {
	domain = formatDomain(domain)
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain required"})
		return
	}
	if _, err := resolveHostWithFallback(domain, nsAddress(s.ab.nameservers, 0)); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "domain does not resolve"})
		return
	}

	s.ab.idxMu.Lock()
	s.ab.idx.insert(domain, nil)
	s.ab.idxMu.Unlock()

	if err := s.ab.overrides.appendAdd(domain); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleVLoad removes domain from the live index and records the deletion in the overrides file.
func (s *adminServer) handleVLoad(c *gin.Context, domain string) {
	domain = formatDomain(domain)
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain required"})
		return
	}

	s.ab.idxMu.Lock()
	s.ab.idx.delete(domain)
	s.ab.idxMu.Unlock()

	if err := s.ab.overrides.appendDelete(domain); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleWLoad reports whether domain is currently blocked, without mutating any state.
func (s *adminServer) handleWLoad(c *gin.Context, domain string) {
	domain = formatDomain(domain)
	s.ab.idxMu.RLock()
	blocked, _ := s.ab.idx.isBlocked(domain)
	s.ab.idxMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"domain": domain, "blocked": blocked})
}

// run starts the admin HTTP listener, blocking until it exits.
func (s *adminServer) run(addr string) error {
	return s.engine.Run(addr)
}

func nsAddress(nss []NameserverConfig, idx int) string {
	if idx < 0 || idx >= len(nss) {
		return ""
	}
	return nss[idx].Address
}
