package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"autotrader/internal/bot"
	"autotrader/internal/journal"
	"autotrader/internal/models"
	"autotrader/pkg/utils"
)

// Server объединяет handlers API с их зависимостями
type Server struct {
	trader   *bot.AutoTrader
	gateway  bot.GatewayStatsProvider
	ledger   *journal.Journal
	risk     *bot.RiskGate
	trailing *bot.TrailingEngine
	alerts   *bot.AlertBook
	log      *utils.Logger
}

// NewServer создаёт API сервер.
// gateway и alerts опциональны: соответствующие секции ответов
// просто пустеют.
func NewServer(deps *Dependencies, log *utils.Logger) *Server {
	if log == nil {
		log = utils.L()
	}
	return &Server{
		trader:   deps.Trader,
		gateway:  deps.Gateway,
		ledger:   deps.Ledger,
		risk:     deps.Risk,
		trailing: deps.Trailing,
		alerts:   deps.Alerts,
		log:      log.WithComponent("api"),
	}
}

// statusResponse - агрегированный снимок состояния бота
type statusResponse struct {
	Risk     models.RiskStatus    `json:"risk"`
	Gateway  *models.GatewayStats `json:"gateway,omitempty"`
	Trailing []bot.StopSnapshot   `json:"trailing"`
}

// GetStatus возвращает агрегированное состояние: риск-менеджер,
// телеметрия шлюза и отслеживаемые стопы
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Risk:     s.risk.Status(),
		Trailing: s.trailing.Snapshots(),
	}
	if s.gateway != nil {
		stats := s.gateway.Stats()
		resp.Gateway = &stats
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetStats возвращает агрегированную статистику журнала сделок
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ledger.Statistics())
}

// GetPositions возвращает открытые позиции журнала
func (s *Server) GetPositions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ledger.OpenPositions())
}

// GetTrades возвращает закрытые сделки журнала
func (s *Server) GetTrades(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ledger.ClosedTrades())
}

// ExportTrades выгружает журнал сделок в CSV
func (s *Server) ExportTrades(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)
	if err := s.ledger.WriteCSV(w); err != nil {
		s.log.Error("csv export", utils.Err(err))
	}
}

// GetTrailingStops возвращает снимки всех отслеживаемых стопов
func (s *Server) GetTrailingStops(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.trailing.Snapshots())
}

// RemoveTrailingStop снимает стоп с отслеживания
func (s *Server) RemoveTrailingStop(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if err := s.trailing.Remove(symbol); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"removed": symbol})
}

// GetAlerts возвращает книгу ценовых алертов
func (s *Server) GetAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		respondJSON(w, http.StatusOK, models.AlertBook{})
		return
	}
	respondJSON(w, http.StatusOK, s.alerts.All())
}

// alertRequest - тело запроса создания/удаления алерта
type alertRequest struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Condition string  `json:"condition"`
}

// AddAlert создаёт ценовой алерт
func (s *Server) AddAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		respondError(w, http.StatusServiceUnavailable, "alerts are not configured")
		return
	}

	var req alertRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := utils.ValidateSymbol(req.Symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := utils.ValidatePrice(req.Price); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := s.alerts.Add(req.Symbol, req.Price, req.Condition)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, alert)
}

// RemoveAlert удаляет алерты символа с заданным порогом
func (s *Server) RemoveAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		respondError(w, http.StatusServiceUnavailable, "alerts are not configured")
		return
	}

	var req alertRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	removed, err := s.alerts.Remove(req.Symbol, req.Price)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// GetStrategy возвращает текущую конфигурацию стратегий
func (s *Server) GetStrategy(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.trader.Strategy())
}

// UpdateStrategy заменяет конфигурацию стратегий целиком
func (s *Server) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var cfg bot.StrategyConfig
	if err := decodeBody(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.trader.SetStrategy(cfg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.trader.Strategy())
}

// RunOnce запускает один проход всех стратегий вне расписания
func (s *Server) RunOnce(w http.ResponseWriter, r *http.Request) {
	results := s.trader.RunOnce(r.Context())
	respondJSON(w, http.StatusOK, results)
}

// ResetDailyRisk сбрасывает дневные счётчики риск-менеджера
func (s *Server) ResetDailyRisk(w http.ResponseWriter, r *http.Request) {
	s.risk.ResetDaily()
	respondJSON(w, http.StatusOK, s.risk.Status())
}
