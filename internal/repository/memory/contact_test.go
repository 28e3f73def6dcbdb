package memory_test

import (
	"testing"

	"github.com/ignite/contact-orchestrator/internal/repository/memory"
	"github.com/ignite/contact-orchestrator/internal/service/contact"
	"github.com/ignite/contact-orchestrator/internal/service/contact/contacttest"
)

func TestContactRepoContract(t *testing.T) {
	contacttest.RunRepositoryContract(t, func(t *testing.T) contact.Repository {
		return memory.NewContactRepo()
	})
}
