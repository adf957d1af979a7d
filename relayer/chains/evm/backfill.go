package evm

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/chains/l1"
)

// defaultFilterBatch caps a single eth_getLogs range.
const defaultFilterBatch = 10000

func dialEthClient(ctx context.Context, rawurl string) (l2Client, error) {
	return ethclient.DialContext(ctx, rawurl)
}

// CheckForPastDeposits scans the recent L2 history for DepositInitialized
// events missed while offline. The scan window's lower bound is found by
// binary-searching block timestamps; observed deposits are created
// idempotently and newly created ones are initialized in the same pass.
func (h *Handler) CheckForPastDeposits(ctx context.Context, opts chains.PastDepositOptions) error {
	if !h.SupportsPastDepositCheck() {
		return nil
	}
	latest := opts.LatestBlock
	if latest == 0 {
		head, err := h.l2.BlockNumber(ctx)
		if err != nil {
			return errors.Wrap(err, "could not fetch L2 head")
		}
		latest = head
	}
	windowStart := time.Now().Add(-time.Duration(opts.PastTimeInMinutes) * time.Minute).Unix()
	from, err := h.findBlockByTime(ctx, uint64(windowStart), latest)
	if err != nil {
		return errors.Wrap(err, "could not resolve scan window start")
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultFilterBatch
	}

	created := 0
	for start := from; start <= latest; start += uint64(batch) {
		end := start + uint64(batch) - 1
		if end > latest {
			end = latest
		}
		logs, err := h.l2.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{h.l2addr},
			Topics:    [][]common.Hash{{l1.DepositInitializedTopic()}},
		})
		if err != nil {
			return errors.Wrapf(err, "could not filter logs %d..%d", start, end)
		}
		for _, logEntry := range logs {
			event, err := h.parseDepositInitialized(logEntry)
			if err != nil {
				h.log.WithError(err).Warn("Skipping unparseable past deposit log")
				continue
			}
			deposit, existing, err := h.core.CreateDeposit(ctx, event)
			if err != nil {
				h.log.WithError(err).Warn("Could not queue past deposit")
				continue
			}
			if existing {
				continue
			}
			created++
			if _, err := h.core.InitializeDeposit(ctx, deposit); err != nil {
				h.log.WithError(err).WithField("depositId", deposit.ID).
					Warn("Backfill initialize failed, reconciler will retry")
			}
		}
	}
	if created > 0 {
		h.log.WithField("count", created).Info("Backfilled missed deposits")
	}
	return nil
}

// findBlockByTime binary-searches the lowest block whose timestamp is at
// or past target. The configured start block bounds the search floor.
func (h *Handler) findBlockByTime(ctx context.Context, target, latest uint64) (uint64, error) {
	lo := h.cfg.L2StartBlock
	hi := latest
	if lo > hi {
		return hi, nil
	}
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, err := h.blockTime(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ts < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

func (h *Handler) blockTime(ctx context.Context, number uint64) (uint64, error) {
	key := strconv.FormatUint(number, 10)
	if ts, ok := h.headerCache.Get(key); ok {
		return ts.(uint64), nil
	}
	header, err := h.l2.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, errors.Wrapf(err, "could not fetch header %d", number)
	}
	h.headerCache.Set(key, header.Time, cache.NoExpiration)
	return header.Time, nil
}
