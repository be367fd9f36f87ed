package models

// Dependency is one edge of the dependency graph: TaskID cannot start until
// DependsOnTaskID is completed. Position is the edge's index within the
// task's dependency list.
type Dependency struct {
	TaskID          string `json:"task_id"`
	DependsOnTaskID string `json:"depends_on_task_id"`
	Position        int    `json:"position"`
}

// Edges flattens the dependency lists of p into edges, in task insertion
// order.
func (p *Project) Edges() []Dependency {
	var out []Dependency
	for _, t := range p.Tasks {
		for i, d := range t.Dependencies {
			out = append(out, Dependency{TaskID: t.ID, DependsOnTaskID: d, Position: i})
		}
	}
	return out
}
