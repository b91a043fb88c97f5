package recommender

import "context"

// MockClient is a test double for the Client interface. It can also serve as
// a no-network provider for local development.
type MockClient struct {
	Proposal *Proposal
	Err      error
	Calls    []ProposalRequest // records requests sent
}

// Propose records the call and returns the mock proposal. An unconfigured
// mock returns an empty proposal rather than nil.
func (m *MockClient) Propose(ctx context.Context, req ProposalRequest) (*Proposal, error) {
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Proposal != nil {
		return m.Proposal, nil
	}
	return &Proposal{Score: 0, Rationale: "no changes proposed"}, nil
}
