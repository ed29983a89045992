package models

// Config 结构体定义了服务的所有配置参数
type Config struct {
	DBPath            string       `json:"db_path"`                       // sqlite 数据库文件路径
	APIPort           int          `json:"api_port"`                      // REST 控制接口监听端口
	TickIntervalSec   int          `json:"tick_interval_sec"`             // 调度循环的检查间隔（秒）
	ReportIntervalSec int          `json:"report_interval_sec,omitempty"` // 状态报表打印间隔（秒），0 表示不打印
	Oracle            OracleConfig `json:"oracle"`
	LogConfig         LogConfig    `json:"log"`
}

// OracleConfig 定义了行情源相关的配置
type OracleConfig struct {
	RESTBaseURL     string `json:"rest_base_url,omitempty"` // 留空则使用币安默认地址
	WSBaseURL       string `json:"ws_base_url"`             // WebSocket 基础地址
	CachePath       string `json:"cache_path"`              // badger 最新价缓存目录
	CacheTTLSec     int    `json:"cache_ttl_sec"`           // 内存缓存有效期（秒）
	StalenessSec    int    `json:"staleness_sec"`           // 超过该时长的缓存价格视为不可用
	EnableStreaming bool   `json:"enable_streaming"`        // 是否为运行中的标的维持 WebSocket 行情流
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}
