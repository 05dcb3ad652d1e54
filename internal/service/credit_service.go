package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/molokoedovmp/aibazar2.0-sub000/internal/config"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/model"
	"github.com/molokoedovmp/aibazar2.0-sub000/internal/repository"

	"github.com/go-redis/redis/v8"
)

// CreditService 积分账户：余额查询（旁路缓存）、计费扣减、消耗流水
type CreditService struct {
	cfg         *config.Config
	store       *repository.LedgerStore
	redisClient *redis.Client
}

func NewCreditService(cfg *config.Config, store *repository.LedgerStore, redisClient *redis.Client) *CreditService {
	return &CreditService{
		cfg:         cfg,
		store:       store,
		redisClient: redisClient,
	}
}

// BalanceInfo 余额视图，available 永远是派生值
type BalanceInfo struct {
	UserID       int64 `json:"user_id"`
	TotalCredits int64 `json:"total_credits"`
	UsedCredits  int64 `json:"used_credits"`
	Available    int64 `json:"available"`
}

func balanceCacheKey(userID int64) string {
	return fmt.Sprintf("credit:balance:%d", userID)
}

// GetBalance 查询余额，Redis 读穿缓存
// 缓存任何一步失败都降级直查 MySQL，只记日志
func (s *CreditService) GetBalance(ctx context.Context, userID int64) (*BalanceInfo, error) {
	if s.redisClient != nil {
		cached, err := s.redisClient.Get(ctx, balanceCacheKey(userID)).Result()
		if err == nil {
			var info BalanceInfo
			if jsonErr := json.Unmarshal([]byte(cached), &info); jsonErr == nil {
				return &info, nil
			}
		} else if err != redis.Nil {
			log.Printf("[Credit] 读取余额缓存失败: userID=%d, err=%v", userID, err)
		}
	}

	balance, err := s.store.Credits().GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询积分账户失败: %w", err)
	}

	info := &BalanceInfo{
		UserID:       userID,
		TotalCredits: balance.TotalCredits,
		UsedCredits:  balance.UsedCredits,
		Available:    balance.Available(),
	}

	if s.redisClient != nil {
		ttl := time.Duration(s.cfg.Business.BalanceCacheSeconds) * time.Second
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		payload, _ := json.Marshal(info)
		if err := s.redisClient.Set(ctx, balanceCacheKey(userID), payload, ttl).Err(); err != nil {
			log.Printf("[Credit] 写入余额缓存失败: userID=%d, err=%v", userID, err)
		}
	}

	return info, nil
}

// Debit 计费扣减，AI 创作等计费功能在执行前调用
// 余额不足返回 repository.ErrCreditsNotEnough
func (s *CreditService) Debit(ctx context.Context, userID, amount int64, serviceTag string) error {
	if err := s.store.DebitCredits(ctx, userID, amount, serviceTag); err != nil {
		return err
	}

	s.InvalidateBalance(ctx, userID)
	log.Printf("[Credit] 积分扣减成功: userID=%d, amount=%d, service=%s", userID, amount, serviceTag)
	return nil
}

// ListUsage 消耗流水列表
func (s *CreditService) ListUsage(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditUsageRecord, int64, error) {
	return s.store.Credits().ListUsageByUserID(ctx, userID, page, pageSize)
}

// InvalidateBalance 余额缓存失效（实现 BalanceCache 接口，对账引擎入账后调用）
func (s *CreditService) InvalidateBalance(ctx context.Context, userID int64) {
	if s.redisClient == nil {
		return
	}
	if err := s.redisClient.Del(ctx, balanceCacheKey(userID)).Err(); err != nil {
		log.Printf("[Credit] 余额缓存失效失败: userID=%d, err=%v", userID, err)
	}
}
