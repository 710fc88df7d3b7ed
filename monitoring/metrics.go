package monitoring

import (
	"encoding/json"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Stage names used across the run.
const (
	StageIngestion   = "ingestion"
	StageMarket      = "market"
	StageAggregation = "aggregation"
	StageFeatures    = "features"
	StageLabeling    = "labeling"
	StageSplit       = "split"
	StageTraining    = "training"
	StageEvaluation  = "evaluation"
	StagePrediction  = "prediction"
)

// StageCounters 单个阶段的计数
type StageCounters struct {
	Stage    string           `json:"stage"`
	Counters map[string]int64 `json:"counters"`
	// HeapAllocPeak 阶段内观测到的最大堆内存
	HeapAllocPeak uint64 `json:"heap_alloc_peak,omitempty"`
}

// StageStats 记录每个阶段读取、保留、跳过、丢弃的行数
type StageStats struct {
	mu     sync.Mutex
	order  []string
	stages map[string]*StageCounters
}

// NewStageStats 创建阶段统计
func NewStageStats() *StageStats {
	return &StageStats{stages: make(map[string]*StageCounters)}
}

func (s *StageStats) stage(name string) *StageCounters {
	st, ok := s.stages[name]
	if !ok {
		st = &StageCounters{Stage: name, Counters: make(map[string]int64)}
		s.stages[name] = st
		s.order = append(s.order, name)
	}
	return st
}

// Add 增加计数器
func (s *StageStats) Add(stage, key string, n int64) {
	if s == nil || n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(stage).Counters[key] += n
}

// Set 设置计数器
func (s *StageStats) Set(stage, key string, n int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage(stage).Counters[key] = n
}

// Merge 合并一组计数，键名加上 prefix
func (s *StageStats) Merge(stage, prefix string, counters map[string]int) {
	for key, n := range counters {
		s.Add(stage, prefix+key, int64(n))
	}
}

// SampleMemory 采样堆内存，保留阶段峰值
func (s *StageStats) SampleMemory(stage string) {
	if s == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stage(stage)
	if m.HeapAlloc > st.HeapAllocPeak {
		st.HeapAllocPeak = m.HeapAlloc
	}
}

// Get 获取计数器
func (s *StageStats) Get(stage, key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[stage]
	if !ok {
		return 0
	}
	return st.Counters[key]
}

// Snapshot 按阶段执行顺序返回副本
func (s *StageStats) Snapshot() []StageCounters {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StageCounters, 0, len(s.order))
	for _, name := range s.order {
		st := s.stages[name]
		counters := make(map[string]int64, len(st.Counters))
		for k, v := range st.Counters {
			counters[k] = v
		}
		out = append(out, StageCounters{Stage: name, Counters: counters, HeapAllocPeak: st.HeapAllocPeak})
	}
	return out
}

// LogStage 输出单个阶段的计数
func (s *StageStats) LogStage(logger *zap.Logger, stage string) {
	s.mu.Lock()
	st, ok := s.stages[stage]
	if !ok {
		s.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(st.Counters))
	for k := range st.Counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys)+2)
	fields = append(fields, zap.String("stage", stage))
	for _, k := range keys {
		fields = append(fields, zap.Int64(k, st.Counters[k]))
	}
	if st.HeapAllocPeak > 0 {
		fields = append(fields, zap.Uint64("heap_alloc_peak", st.HeapAllocPeak))
	}
	s.mu.Unlock()

	logger.Info("stage counts", fields...)
}

// MarshalJSON 导出为有序的 JSON 数组
func (s *StageStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
