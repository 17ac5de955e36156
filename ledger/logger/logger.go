package logger

import (
	"math/big"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func Setup(level string) {

	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func EventAcceptedLog(source string, identity string, blockNumber uint64) {
	log.Debug().
		Str("source", source).
		Str("identity", identity).
		Uint64("block", blockNumber).
		Msg("event accepted")
}

func DuplicateSkipLog(identity string) {
	log.Debug().Str("identity", identity).Msg("duplicate identity skipped")
}

func PoisonedEventLog(identity string, err error) {
	log.Error().Str("identity", identity).Err(err).Msg("event decode failed, skipping")
}

func TransferAppliedLog(identity string, from string, to string, amount *big.Int, journalId int64) {
	log.Info().
		Str("identity", identity).
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Int64("journal_id", journalId).
		Msg("transfer applied")
}

func DispatchErrorLog(identity string, err error) {
	log.Error().Str("identity", identity).Err(err).Msg("dispatch failed, claim left for retry")
}

func BackfillStartLog(fromBlock uint64, toBlock uint64) {
	log.Info().Uint64("from", fromBlock).Uint64("to", toBlock).Msg("backfill started")
}

func BackfillDoneLog(eventCount int) {
	log.Info().Int("events", eventCount).Msg("backfill finished")
}

func BackfillErrorLog(err error) {
	log.Error().Err(err).Msg("backfill failed")
}

func ResubscribeLog(err error) {
	log.Warn().Err(err).Msg("subscription broke, resubscribing")
}

func WorkerStartLog(name string, workerId int) {
	log.Debug().Str("pool", name).Int("worker", workerId).Msg("worker started")
}

func WorkerStopLog(name string, workerId int) {
	log.Debug().Str("pool", name).Int("worker", workerId).Msg("worker stopped")
}

func Infof(format string, arguments ...interface{}) {
	log.Info().Msgf(format, arguments...)
}

func Warnf(format string, arguments ...interface{}) {
	log.Warn().Msgf(format, arguments...)
}

func Errorf(format string, arguments ...interface{}) {
	log.Error().Msgf(format, arguments...)
}
