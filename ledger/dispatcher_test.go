package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/vtok/token_ledger/store"
)

// fakeStore mirrors the MySQL store semantics in memory: claim rows, atomic
// apply with completion flip, append-only journal.
type fakeStore struct {
	mu sync.Mutex

	tasks       map[string]string
	claimBlocks map[string]uint64
	balances    map[string]*big.Int
	journal     []*store.TransferRecord

	applyCalls  int
	failApplies int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:       make(map[string]string),
		claimBlocks: make(map[string]uint64),
		balances:    make(map[string]*big.Int),
		journal:     make([]*store.TransferRecord, 0),
	}
}

func (f *fakeStore) ClaimTask(ctx context.Context, identity string, blockNumber uint64) (store.TaskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	status, exists := f.tasks[identity]
	if !exists {
		f.tasks[identity] = "pending"
		f.claimBlocks[identity] = blockNumber
		return store.TaskNew, nil
	}

	if status == "completed" {
		return store.TaskCompleted, nil
	}

	return store.TaskResumed, nil
}

func (f *fakeStore) ApplyTransfer(ctx context.Context, identity string, record *store.TransferRecord) (*store.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applyCalls++

	if f.failApplies > 0 {
		f.failApplies--
		return nil, errors.New("db connection lost")
	}

	if record.Amount == nil || record.Amount.Sign() <= 0 {
		return nil, store.ErrInvalidAmount
	}

	if f.tasks[identity] == "completed" {
		return nil, store.ErrAlreadyApplied
	}

	f.adjust(record.FromAddress, new(big.Int).Neg(record.Amount))
	f.adjust(record.ToAddress, record.Amount)

	copied := *record
	copied.Id = int64(len(f.journal) + 1)
	f.journal = append(f.journal, &copied)

	f.tasks[identity] = "completed"

	return &store.TransferResult{
		JournalId:   copied.Id,
		FromBalance: new(big.Int).Set(f.balances[record.FromAddress]),
		ToBalance:   new(big.Int).Set(f.balances[record.ToAddress]),
	}, nil
}

func (f *fakeStore) adjust(address string, delta *big.Int) {
	balance, exists := f.balances[address]
	if !exists {
		balance = new(big.Int)
		f.balances[address] = balance
	}
	balance.Add(balance, delta)
}

func (f *fakeStore) balance(address string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()

	balance, exists := f.balances[address]
	if !exists {
		return new(big.Int)
	}
	return new(big.Int).Set(balance)
}

func (f *fakeStore) journalLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.journal)
}

func newTestDispatcher(t *testing.T, transferStore TransferStore) *Dispatcher {
	t.Helper()

	dispatcher, err := NewDispatcher(context.Background(), 4, transferStore, mustDecoder(t))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	return dispatcher
}

func assertBalance(t *testing.T, transferStore *fakeStore, address string, want int64) {
	t.Helper()

	got := transferStore.balance(address)
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Errorf("balance(%v) = %v, want %v", address, got, want)
	}
}

func TestDispatchAppliesTransfer(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)

	accountA := testAddress(0xa1)
	accountB := testAddress(0xb1)

	log := makeTransferLog(t, 1, 0, accountA, accountB, 100)
	dispatcher.dispatch(log)

	assertBalance(t, transferStore, accountA.String(), -100)
	assertBalance(t, transferStore, accountB.String(), 100)

	if transferStore.journalLen() != 1 {
		t.Fatalf("journal rows = %v, want 1", transferStore.journalLen())
	}

	row := transferStore.journal[0]
	if row.TransactionHash != log.TransactionHash.String() {
		t.Errorf("journal row references %v, want %v", row.TransactionHash, log.TransactionHash.String())
	}
}

func TestDispatchIdempotentReplay(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)

	accountA := testAddress(0xa1)
	accountB := testAddress(0xb1)

	log := makeTransferLog(t, 1, 0, accountA, accountB, 100)
	for i := 0; i < 5; i++ {
		dispatcher.dispatch(log)
	}

	// a second process with a cold cache replays the same identity
	cold := newTestDispatcher(t, transferStore)
	cold.dispatch(makeTransferLog(t, 1, 0, accountA, accountB, 100))

	assertBalance(t, transferStore, accountA.String(), -100)
	assertBalance(t, transferStore, accountB.String(), 100)

	if transferStore.journalLen() != 1 {
		t.Errorf("journal rows = %v, want exactly 1 after replays", transferStore.journalLen())
	}
}

func TestDispatchScenarioSequence(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)

	accountA := testAddress(0xa1)
	accountB := testAddress(0xb1)

	dispatcher.dispatch(makeTransferLog(t, 1, 0, accountA, accountB, 100))
	dispatcher.dispatch(makeTransferLog(t, 1, 0, accountA, accountB, 100)) // replay of T1
	dispatcher.dispatch(makeTransferLog(t, 2, 0, accountA, accountB, 50))
	dispatcher.dispatch(makeTransferLog(t, 3, 0, accountB, accountA, 30))

	assertBalance(t, transferStore, accountA.String(), -120)
	assertBalance(t, transferStore, accountB.String(), 120)

	if transferStore.journalLen() != 3 {
		t.Errorf("journal rows = %v, want 3", transferStore.journalLen())
	}
}

func TestDispatchOrderIndependent(t *testing.T) {

	forward := newFakeStore()
	reversed := newFakeStore()

	first := makeTransferLog(t, 2, 0, testAddress(1), testAddress(2), 50)
	second := makeTransferLog(t, 3, 0, testAddress(3), testAddress(4), 30)

	forwardDispatcher := newTestDispatcher(t, forward)
	forwardDispatcher.dispatch(first)
	forwardDispatcher.dispatch(second)

	reversedDispatcher := newTestDispatcher(t, reversed)
	reversedDispatcher.dispatch(second)
	reversedDispatcher.dispatch(first)

	for _, address := range []string{testAddress(1).String(), testAddress(2).String(), testAddress(3).String(), testAddress(4).String()} {
		if forward.balance(address).Cmp(reversed.balance(address)) != 0 {
			t.Errorf("balance(%v) diverged between delivery orders", address)
		}
	}
}

func TestDispatchConservation(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)

	amounts := []int64{100, 50, 30, 7, 981}
	for i, amount := range amounts {
		from := testAddress(byte(i % 3))
		to := testAddress(byte((i + 1) % 3))
		dispatcher.dispatch(makeTransferLog(t, byte(10+i), 0, from, to, amount))
	}

	total := new(big.Int)
	transferStore.mu.Lock()
	for _, balance := range transferStore.balances {
		total.Add(total, balance)
	}
	transferStore.mu.Unlock()

	if total.Sign() != 0 {
		t.Errorf("sum of balances = %v, want 0", total)
	}
}

func TestDispatchPoisonedEventSkipped(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)

	poisoned := makeTransferLog(t, 4, 0, testAddress(1), testAddress(2), 10)
	poisoned.Topics = poisoned.Topics[:1]

	dispatcher.dispatch(poisoned)

	if transferStore.journalLen() != 0 {
		t.Error("poisoned event must not reach the journal")
	}
	if len(transferStore.tasks) != 0 {
		t.Error("poisoned event must not claim an identity")
	}

	// the stream keeps moving
	dispatcher.dispatch(makeTransferLog(t, 5, 0, testAddress(1), testAddress(2), 10))
	if transferStore.journalLen() != 1 {
		t.Error("later events must still be processed")
	}
}

func TestDispatchResumesPendingClaim(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)

	log := makeTransferLog(t, 6, 0, testAddress(1), testAddress(2), 10)

	// crash mid-flight before this process: claimed but never completed
	transferStore.tasks[EventIdentity(log)] = "pending"

	dispatcher.dispatch(log)

	if transferStore.journalLen() != 1 {
		t.Fatalf("journal rows = %v, want 1 after resume", transferStore.journalLen())
	}
	if transferStore.tasks[EventIdentity(log)] != "completed" {
		t.Error("resumed claim must end completed")
	}
}

func TestDispatchRetriesTransientErrors(t *testing.T) {

	transferStore := newFakeStore()
	transferStore.failApplies = 2

	dispatcher := newTestDispatcher(t, transferStore)
	dispatcher.dispatch(makeTransferLog(t, 7, 0, testAddress(1), testAddress(2), 10))

	if transferStore.journalLen() != 1 {
		t.Fatalf("journal rows = %v, want 1 after retries", transferStore.journalLen())
	}
	if transferStore.applyCalls != 3 {
		t.Errorf("apply calls = %v, want 3 (two transient failures)", transferStore.applyCalls)
	}
}

func TestDispatchClaimCarriesBlockNumber(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)

	log := makeTransferLog(t, 100, 0, testAddress(1), testAddress(2), 10)
	dispatcher.dispatch(log)

	identity := EventIdentity(log)

	transferStore.mu.Lock()
	claimedBlock, exists := transferStore.claimBlocks[identity]
	transferStore.mu.Unlock()

	if !exists {
		t.Fatal("claim must record the event's block number")
	}
	if claimedBlock != log.BlockNumber {
		t.Errorf("claimed block = %v, want %v", claimedBlock, log.BlockNumber)
	}
}

func TestDispatchConcurrentSameIdentity(t *testing.T) {

	transferStore := newFakeStore()
	dispatcher := newTestDispatcher(t, transferStore)
	dispatcher.Run()

	log := makeTransferLog(t, 8, 0, testAddress(1), testAddress(2), 10)
	for i := 0; i < 20; i++ {
		dispatcher.Submit(log)
	}

	deadline := time.Now().Add(5 * time.Second)
	for transferStore.journalLen() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	dispatcher.Done()
	dispatcher.Wait()

	if transferStore.journalLen() != 1 {
		t.Errorf("journal rows = %v, want 1 under concurrent redelivery", transferStore.journalLen())
	}
	assertBalance(t, transferStore, testAddress(1).String(), -10)
	assertBalance(t, transferStore, testAddress(2).String(), 10)
}
