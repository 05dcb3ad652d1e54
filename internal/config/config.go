package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Mail     MailConfig     `mapstructure:"mail"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentCompleted string `mapstructure:"payment_completed"`
}

// GatewayConfig 支付网关配置
type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ShopID         string `mapstructure:"shop_id"`
	SecretKey      string `mapstructure:"secret_key"`
	ReturnURL      string `mapstructure:"return_url"`      // 支付完成后网关跳回的页面
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 单次网关调用超时
}

// MailConfig SMTP 通知配置
type MailConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	From         string `mapstructure:"from"`
	SalesAddress string `mapstructure:"sales_address"` // 销售侧运营通知收件人
}

type BusinessConfig struct {
	Currency             string `mapstructure:"currency"`              // 全站固定货币，如 RUB
	FreeCredits          int64  `mapstructure:"free_credits"`          // 账户懒创建时的免费赠送积分
	CreditPrice          int64  `mapstructure:"credit_price"`          // 单个积分售价（最小货币单位）
	ReconcileParallelism int    `mapstructure:"reconcile_parallelism"` // 页面触发对账的并发上限
	BalanceCacheSeconds  int    `mapstructure:"balance_cache_seconds"` // 余额缓存 TTL
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
