package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"owl-loadshed/internal/controller"
	"owl-loadshed/internal/models"
	"owl-loadshed/internal/policy"
	"owl-loadshed/internal/repository"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// PolicyService 策略读写（policy.Store 实现）
type PolicyService interface {
	Get(ctx context.Context) (*models.LoadPolicy, error)
	Update(ctx context.Context, patch models.PolicyPatch) (*models.LoadPolicy, error)
	AddLoad(ctx context.Context, loadType models.LoadType, item models.LoadItem) (*models.LoadItem, error)
	RemoveLoad(ctx context.Context, id string) error
}

// ControllerView 控制器状态
type ControllerView interface {
	Snapshot() controller.Snapshot
}

// ReadingsSource 最新读数（telemetry.Tracker 实现）
type ReadingsSource interface {
	Latest() (models.PowerReadings, bool)
}

// ShedEventLister 减载历史（审计开启时可用）
type ShedEventLister interface {
	ListRecent(ctx context.Context, limit int) ([]repository.ShedEvent, error)
}

// CommandLister 设备指令历史（审计开启时可用）
type CommandLister interface {
	ListByDevice(ctx context.Context, roomID, deviceID string, limit int) ([]models.DeviceCommand, error)
}

// LoadHandler 负载管理 Handler（操作员手动入口）
type LoadHandler struct {
	policy      PolicyService
	sink        controller.CommandSink
	controller  ControllerView
	readings    ReadingsSource
	events      ShedEventLister
	commands    CommandLister
	parallelism int
	logger      *zap.Logger
}

// NewLoadHandler 创建负载管理 Handler；events、commands 可以为 nil
func NewLoadHandler(
	policySvc PolicyService,
	sink controller.CommandSink,
	ctrl ControllerView,
	readings ReadingsSource,
	events ShedEventLister,
	commands CommandLister,
	parallelism int,
	logger *zap.Logger,
) *LoadHandler {
	return &LoadHandler{
		policy:      policySvc,
		sink:        sink,
		controller:  ctrl,
		readings:    readings,
		events:      events,
		commands:    commands,
		parallelism: parallelism,
		logger:      logger,
	}
}

// GetSettings 读取负载策略
func (h *LoadHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	p, err := h.policy.Get(r.Context())
	if err != nil {
		h.fail(w, "GetSettings", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(p))
}

// PatchSettings 部分更新（mode、阈值、activePowerSource、savePowerActive、负载列表）
func (h *LoadHandler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch models.PolicyPatch
	if err := readBodyJSON(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	p, err := h.policy.Update(r.Context(), patch)
	if err != nil {
		h.fail(w, "PatchSettings", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(p))
}

type activeSourceRequest struct {
	Source models.PowerSource `json:"source"`
}

// SetActiveSource 设置当前供电来源；source 为空表示清空
func (h *LoadHandler) SetActiveSource(w http.ResponseWriter, r *http.Request) {
	var req activeSourceRequest
	if err := readBodyJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	if req.Source != "" && !req.Source.Valid() {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("unknown power source %q", req.Source)))
		return
	}

	p, err := h.policy.Update(r.Context(), models.PolicyPatch{ActivePowerSource: &req.Source})
	if err != nil {
		h.fail(w, "SetActiveSource", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(p))
}

type addLoadRequest struct {
	LoadType   models.LoadType `json:"loadType"`
	RoomID     string          `json:"roomId"`
	RoomName   string          `json:"roomName"`
	DeviceID   string          `json:"deviceId"`
	DeviceName string          `json:"deviceName"`
}

// AddLoad 把设备加入必要/非必要列表
func (h *LoadHandler) AddLoad(w http.ResponseWriter, r *http.Request) {
	var req addLoadRequest
	if err := readBodyJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	if req.LoadType != models.LoadEssential && req.LoadType != models.LoadNonEssential {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("unknown load type %q", req.LoadType)))
		return
	}

	item, err := h.policy.AddLoad(r.Context(), req.LoadType, models.LoadItem{
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		RoomID:     req.RoomID,
		RoomName:   req.RoomName,
	})
	if err != nil {
		h.fail(w, "AddLoad", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(item))
}

// RemoveLoad 从所在列表移除设备
func (h *LoadHandler) RemoveLoad(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.policy.RemoveLoad(r.Context(), id); err != nil {
		h.fail(w, "RemoveLoad", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
}

type savePowerResponse struct {
	Devices int    `json:"devices"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// SavePower 手动省电：关闭全部非必要负载并置 savePowerActive=true
// 部分设备失败时仍置位，失败详情放在响应中
func (h *LoadHandler) SavePower(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.policy.Get(ctx)
	if err != nil {
		h.fail(w, "SavePower", err)
		return
	}

	failed, sendErr := controller.TurnOff(ctx, h.sink, p.NonEssentialLoads, "manual:save-power", h.parallelism)
	resp := savePowerResponse{Devices: len(p.NonEssentialLoads), Failed: failed}
	if sendErr != nil {
		resp.Error = sendErr.Error()
		h.logger.Warn("Manual save power: some loads could not be turned off",
			zap.Int("failed", failed),
			zap.Error(sendErr),
		)
	}

	if _, err := h.policy.Update(ctx, models.SetSavePowerActive(true)); err != nil {
		h.fail(w, "SavePower", err)
		return
	}

	h.logger.Info("Manual save power applied",
		zap.Int("devices", resp.Devices),
		zap.Int("failed", failed),
	)
	writeJSON(w, http.StatusOK, Ok(resp))
}

type readingsResponse struct {
	Available bool                 `json:"available"`
	Readings  models.PowerReadings `json:"readings"`
}

// GetReadings 最新的派生读数
func (h *LoadHandler) GetReadings(w http.ResponseWriter, _ *http.Request) {
	readings, ok := h.readings.Latest()
	writeJSON(w, http.StatusOK, Ok(readingsResponse{Available: ok, Readings: readings}))
}

// GetController 控制器状态
func (h *LoadHandler) GetController(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.controller.Snapshot()))
}

// ListShedEvents 最近的减载事件
func (h *LoadHandler) ListShedEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusNotFound, Fail("shed history is not enabled"))
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 20)
	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		h.fail(w, "ListShedEvents", err)
		return
	}
	if events == nil {
		events = []repository.ShedEvent{}
	}
	writeJSON(w, http.StatusOK, Ok(events))
}

// ListDeviceCommands 某设备最近的指令
func (h *LoadHandler) ListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	if h.commands == nil {
		writeJSON(w, http.StatusNotFound, Fail("command history is not enabled"))
		return
	}

	vars := mux.Vars(r)
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	cmds, err := h.commands.ListByDevice(r.Context(), vars["roomId"], vars["deviceId"], limit)
	if err != nil {
		h.fail(w, "ListDeviceCommands", err)
		return
	}
	if cmds == nil {
		cmds = []models.DeviceCommand{}
	}
	writeJSON(w, http.StatusOK, Ok(cmds))
}

func (h *LoadHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	writeJSON(w, status, Fail(err.Error()))
}

var _ PolicyService = (*policy.Store)(nil)
