package dbmap

import (
	"context"
	"sync"
	"time"
)

// DBPinger 定义数据库连接检查接口，便于测试
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// connectionMonitor 连接监控器
// 定时检查原生连接池的状态，只在健康状态变化时记录日志
type connectionMonitor struct {
	pinger         DBPinger      // 数据库连接检查器
	dbName         string        // 数据库名称
	normalInterval time.Duration // 正常检查间隔
	errorInterval  time.Duration // 故障检查间隔
	stopCh         chan struct{} // 停止信号
	doneCh         chan struct{} // run 退出信号
	started        bool
	lastHealthy    bool // 上次检查的健康状态（用于状态变化检测）
	mu             sync.Mutex
}

// globalLimitCh 全局并发限制信号量
// 最多 5 个连接池同时进行 Ping，避免慢库阻塞所有检查
var globalLimitCh = make(chan struct{}, 5)

func newConnectionMonitor(pinger DBPinger, dbName string, normal, errInterval time.Duration) *connectionMonitor {
	if errInterval <= 0 {
		errInterval = DefaultMonitorErrorInterval
	}
	return &connectionMonitor{
		pinger:         pinger,
		dbName:         dbName,
		normalInterval: normal,
		errorInterval:  errInterval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		lastHealthy:    true, // 假设初始状态为健康
	}
}

// Start 启动连接监控器，重复调用无效
func (cm *connectionMonitor) Start() {
	if cm == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.started {
		return
	}
	cm.started = true
	go cm.run()
}

// Stop 停止连接监控器并等待监控协程退出
func (cm *connectionMonitor) Stop() {
	if cm == nil {
		return
	}
	cm.mu.Lock()
	select {
	case <-cm.stopCh:
		cm.mu.Unlock()
		return
	default:
		close(cm.stopCh)
	}
	started := cm.started
	cm.mu.Unlock()

	if started {
		<-cm.doneCh
	}
}

// Healthy 返回最近一次检查的结果
func (cm *connectionMonitor) Healthy() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lastHealthy
}

// checkConnection 检查数据库连接状态
func (cm *connectionMonitor) checkConnection() bool {
	// 获取限流许可
	select {
	case globalLimitCh <- struct{}{}:
		defer func() { <-globalLimitCh }()
	case <-cm.stopCh:
		return false
	default:
		// 限流已满，跳过本次检查，沿用上次结果
		return cm.Healthy()
	}

	// 增加 Context 超时控制，防止 Ping 挂死
	ctx, cancel := context.WithTimeout(context.Background(), monitorPingTimeout)
	defer cancel()
	err := cm.pinger.PingContext(ctx)
	isHealthy := err == nil

	// 只在状态变化时记录日志
	cm.mu.Lock()
	changed := cm.lastHealthy != isHealthy
	cm.lastHealthy = isHealthy
	cm.mu.Unlock()

	if changed {
		if isHealthy {
			LogInfo("数据库连接已恢复", map[string]interface{}{"db": cm.dbName})
		} else {
			LogError("数据库连接失败", map[string]interface{}{
				"db":    cm.dbName,
				"error": fixStringEncoding(err.Error()),
			})
		}
	}
	return isHealthy
}

// run 监控器主循环，根据连接状态在正常间隔和故障间隔之间切换
func (cm *connectionMonitor) run() {
	defer close(cm.doneCh)

	interval := cm.normalInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-cm.stopCh:
			return
		case <-timer.C:
			if cm.checkConnection() {
				interval = cm.normalInterval
			} else {
				interval = cm.errorInterval
			}
			timer.Reset(interval)
		}
	}
}
