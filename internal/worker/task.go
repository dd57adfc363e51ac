package worker

// Task はワーカーが一度だけ実行する処理
type Task func()

type itemKind int

const (
	itemTask itemKind = iota
	itemTerminate
)

func (k itemKind) String() string {
	switch k {
	case itemTask:
		return "task"
	case itemTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// workItem はワークチャネルを流れる要素
type workItem struct {
	kind itemKind
	id   string
	task Task
}

func newTaskItem(id string, task Task) workItem {
	return workItem{kind: itemTask, id: id, task: task}
}

func terminateItem() workItem {
	return workItem{kind: itemTerminate}
}
