package sync

import "testing"

func TestSeqLockReadRetry(t *testing.T) {
	var l SeqLock

	seq := l.ReadBegin()
	if l.ReadRetry(seq) {
		t.Fatal("expected read section without a concurrent writer not to retry")
	}

	l.WriteLock()
	l.WriteUnlock()

	if !l.ReadRetry(seq) {
		t.Fatal("expected read section that raced with a writer to retry")
	}
}

func TestSeqLockWriteMarksSequenceOdd(t *testing.T) {
	var l SeqLock

	l.WriteLock()
	if l.seq&1 != 1 {
		t.Fatal("expected in-flight write to leave the sequence odd")
	}
	l.WriteUnlock()

	if l.seq&1 != 0 {
		t.Fatal("expected completed write to leave the sequence even")
	}
}
