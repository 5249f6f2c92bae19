package domain

type Project struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	RepoPath    string           `json:"repo_path"`
	Phase       Phase            `json:"phase" enum:"brainstorm,design,plan,execute,review,done"`
	ModelConfig map[Phase]string `json:"model_config,omitempty"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

type Artifact struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Type      ArtifactType   `json:"type" enum:"design,plan"`
	Content   string         `json:"content"`
	FilePath  *string        `json:"file_path,omitempty"`
	Status    ArtifactStatus `json:"status" enum:"draft,approved,rejected"`
	Feedback  *string        `json:"feedback,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type Worktree struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Branch    string         `json:"branch"`
	Path      string         `json:"path"`
	Status    WorktreeStatus `json:"status" enum:"active,merged,discarded"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	ArtifactID     *string    `json:"artifact_id,omitempty"`
	WorktreeID     *string    `json:"worktree_id,omitempty"`
	Number         int        `json:"task_number"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         TaskStatus `json:"status" enum:"pending,in-progress,done,approved,failed"`
	SpecReview     *string    `json:"spec_review,omitempty"`
	QualityReview  *string    `json:"quality_review,omitempty"`
	StartedAt      *string    `json:"started_at,omitempty" format:"date-time"`
	CompletedAt    *string    `json:"completed_at,omitempty" format:"date-time"`
	AgentSessionID *string    `json:"agent_session_id,omitempty"`
	CreatedAt      string     `json:"created_at" format:"date-time"`
	UpdatedAt      string     `json:"updated_at" format:"date-time"`
}

// Reviewed reports whether both reviews are present and passing.
func (t Task) Reviewed() bool {
	return reviewPassed(t.SpecReview) && reviewPassed(t.QualityReview)
}

func reviewPassed(text *string) bool {
	if text == nil {
		return false
	}
	r, ok := ParseReview(*text)
	return ok && r.Verdict == Pass
}

type Event struct {
	ID        int64        `json:"id"`
	ProjectID string       `json:"project_id"`
	Type      EventType    `json:"event_type" enum:"phase_change,approval,task_update,review"`
	Details   EventDetails `json:"details"`
	CreatedAt string       `json:"created_at" format:"date-time"`
}

// TaskDraft is a task parsed from a plan, before it is stored.
type TaskDraft struct {
	Number      int    `json:"task_number"`
	Title       string `json:"title"`
	Description string `json:"description"`
}
