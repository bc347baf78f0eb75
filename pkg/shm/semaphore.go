package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Semaphore is a named counting semaphore backed by a FIFO. Post writes
// one byte, Wait blocks reading one byte; the kernel pipe buffer carries
// the count. Both sides open the endpoint read-write so neither open nor
// post can block on a missing peer.
type Semaphore struct {
	path string
	file *os.File
}

func createSemaphore(path string, initial int) (*Semaphore, error) {
	if err := unix.Mkfifo(path, 0600); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", path, err)
	}
	s, err := openSemaphore(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	for i := 0; i < initial; i++ {
		if err := s.Post(); err != nil {
			s.Close()
			os.Remove(path)
			return nil, err
		}
	}
	return s, nil
}

func openSemaphore(path string) (*Semaphore, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.Mode()&os.ModeNamedPipe == 0 {
		return nil, fmt.Errorf("%s: not a named pipe", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return &Semaphore{path: path, file: f}, nil
}

// Wait blocks until the semaphore count is positive, then decrements it.
func (s *Semaphore) Wait() error {
	buf := make([]byte, 1)
	for {
		n, err := s.file.Read(buf)
		if n == 1 {
			return nil
		}
		if err != nil {
			return fmt.Errorf("semaphore wait %s: %w", s.path, err)
		}
	}
}

// Post increments the semaphore count, waking one waiter.
func (s *Semaphore) Post() error {
	if _, err := s.file.Write([]byte{1}); err != nil {
		return fmt.Errorf("semaphore post %s: %w", s.path, err)
	}
	return nil
}

// Close releases the endpoint without removing the named pipe.
func (s *Semaphore) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
