// Package taskrunner runs scripted crawl tasks and the ambient scheduler for
// the mock task backend. Progress is reported through a Publisher as log lines
// and status transitions.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/taskwatch/schema"
)

// Publisher receives task progress.
type Publisher interface {
	PublishLog(taskID schema.TaskID, line string)
	PublishStatus(taskID schema.TaskID, status schema.TaskStatus)
	// Finish marks the stream of taskID as complete.
	Finish(taskID schema.TaskID)
}

// Config tunes the scripted tasks.
type Config struct {
	StepDelay         time.Duration
	DefaultSteps      int
	SchedulerID       schema.TaskID
	SchedulerInterval time.Duration
}

// Runner owns every task of the mock backend.
type Runner struct {
	cfg   Config
	pub   Publisher
	log   pslog.Logger
	now   func() time.Time
	newID func() schema.TaskID

	mu    sync.Mutex
	tasks map[schema.TaskID]*task
	wg    sync.WaitGroup
}

type task struct {
	summary schema.TaskSummary
	cancel  context.CancelFunc
	stopped bool
}

// New constructs a runner.
func New(cfg Config, pub Publisher, logger pslog.Logger) (*Runner, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.StepDelay < 0 {
		return nil, errors.New("step delay must be >= 0")
	}
	if cfg.DefaultSteps <= 0 {
		cfg.DefaultSteps = 3
	}
	if cfg.SchedulerID == "" {
		cfg.SchedulerID = schema.DefaultSchedulerTaskID
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = 30 * time.Second
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Runner{
		cfg:   cfg,
		pub:   pub,
		log:   logger,
		now:   time.Now,
		newID: func() schema.TaskID { return schema.TaskID(uuid.NewString()) },
		tasks: make(map[schema.TaskID]*task),
	}, nil
}

// Create starts a one-shot crawl task.
func (r *Runner) Create(ctx context.Context, req schema.CreateTaskRequest) (schema.TaskSummary, error) {
	if req.Steps < 0 {
		return schema.TaskSummary{}, fmt.Errorf("%w: steps must be >= 0", schema.ErrInvalidRequest)
	}
	steps := req.Steps
	if steps == 0 {
		steps = r.cfg.DefaultSteps
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "crawl"
	}
	id := r.newID()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		summary: schema.TaskSummary{ID: id, Name: name, Status: schema.StatusPending, CreatedAt: r.now().UTC()},
		cancel:  cancel,
	}
	r.mu.Lock()
	r.tasks[id] = t
	r.wg.Add(1)
	r.mu.Unlock()

	log := r.log.With("task", id)
	log.Info("task created", "name", name, "steps", steps)
	r.setStatus(id, schema.StatusPending)
	go func() {
		defer r.wg.Done()
		defer cancel()
		status := r.runCrawl(runCtx, id, name, steps, req)
		r.setStatus(id, status)
		r.pub.Finish(id)
		log.Info("task finished", "status", status)
	}()
	return r.summary(id), nil
}

// StartScheduler registers the scheduler channel and runs it until ctx ends.
// Between runs the scheduler reports cancelled; it reports idle when it exits.
func (r *Runner) StartScheduler(ctx context.Context) {
	id := r.cfg.SchedulerID
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if _, exists := r.tasks[id]; exists {
		r.mu.Unlock()
		cancel()
		return
	}
	r.tasks[id] = &task{
		summary: schema.TaskSummary{ID: id, Name: "scheduler", Status: schema.StatusPending, Scheduler: true, CreatedAt: r.now().UTC()},
		cancel:  cancel,
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()
		r.runScheduler(runCtx, id)
		r.setStatus(id, schema.StatusIdle)
		r.pub.Finish(id)
	}()
}

// Stop cancels a task. Stopping a finished task reports its final status.
func (r *Runner) Stop(taskID schema.TaskID) (schema.StopTaskResponse, error) {
	r.mu.Lock()
	t := r.tasks[taskID]
	if t == nil {
		r.mu.Unlock()
		return schema.StopTaskResponse{}, schema.ErrTaskNotFound
	}
	status := t.summary.Status
	terminal := t.stopped || isFinal(t.summary)
	if !terminal {
		t.stopped = true
	}
	cancel := t.cancel
	r.mu.Unlock()

	if terminal {
		return schema.StopTaskResponse{TaskID: taskID, Status: status}, nil
	}
	r.log.Info("task stop requested", "task", taskID)
	r.pub.PublishLog(taskID, r.stamp("⏹️ 收到停止请求，正在停止..."))
	r.setStatus(taskID, schema.StatusStopping)
	cancel()
	return schema.StopTaskResponse{TaskID: taskID, Status: schema.StatusStopping}, nil
}

// Get returns the summary of taskID.
func (r *Runner) Get(taskID schema.TaskID) (schema.TaskSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[taskID]
	if t == nil {
		return schema.TaskSummary{}, false
	}
	return t.summary, true
}

// List returns all tasks, oldest first.
func (r *Runner) List() []schema.TaskSummary {
	r.mu.Lock()
	out := make([]schema.TaskSummary, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.summary)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close cancels every task and waits for them to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	for _, t := range r.tasks {
		t.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) runCrawl(ctx context.Context, id schema.TaskID, name string, steps int, req schema.CreateTaskRequest) schema.TaskStatus {
	r.setStatus(id, schema.StatusRunning)
	r.pub.PublishLog(id, r.stamp(fmt.Sprintf("🚀 开始爬取任务 %s", name)))
	r.pub.PublishLog(id, r.stamp(fmt.Sprintf("⚙️ 配置: 页数 %d", steps)))
	total := 0
	for page := 1; page <= steps; page++ {
		if !r.sleep(ctx) {
			return r.stopped(id)
		}
		r.pub.PublishLog(id, r.stamp(fmt.Sprintf("🌐 请求第 %d 页", page)))
		if req.Expired && page == 1 {
			r.pub.PublishLog(id, r.stamp("❌ 会员已过期，请续费后重试"))
			return schema.StatusFailed
		}
		if req.Fail && page == steps {
			r.pub.PublishLog(id, r.stamp(fmt.Sprintf("❌ 第 %d 页请求失败: 连接超时", page)))
			return schema.StatusFailed
		}
		count := 10 + page
		total += count
		r.pub.PublishLog(id, r.stamp(fmt.Sprintf("📄 第 %d/%d 页解析完成，获取 %d 条", page, steps, count)))
		r.pub.PublishLog(id, r.stamp(fmt.Sprintf("💾 已保存 %d 条到数据库", count)))
	}
	r.pub.PublishLog(id, r.stamp(fmt.Sprintf("📊 统计: 共 %d 条", total)))
	r.pub.PublishLog(id, r.stamp(fmt.Sprintf("✅ 完成 %d 条", total)))
	return schema.StatusCompleted
}

func (r *Runner) runScheduler(ctx context.Context, id schema.TaskID) {
	for round := 1; ; round++ {
		r.setStatus(id, schema.StatusRunning)
		r.pub.PublishLog(id, r.stamp(fmt.Sprintf("⏰ 定时任务第 %d 轮开始", round)))
		if !r.sleep(ctx) {
			return
		}
		r.pub.PublishLog(id, r.stamp("🔄 正在刷新关注列表"))
		r.pub.PublishLog(id, r.stamp("✅ 本轮完成"))
		r.setStatus(id, schema.StatusCancelled)
		r.pub.PublishLog(id, r.stamp(fmt.Sprintf("⏱️ 下一轮将在 %s 后开始", r.cfg.SchedulerInterval)))
		timer := time.NewTimer(r.cfg.SchedulerInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.pub.PublishLog(id, r.stamp("🛑 定时任务已停止"))
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) stopped(id schema.TaskID) schema.TaskStatus {
	r.pub.PublishLog(id, r.stamp("🛑 任务已停止"))
	return schema.StatusStopped
}

func (r *Runner) sleep(ctx context.Context) bool {
	if r.cfg.StepDelay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(r.cfg.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) setStatus(id schema.TaskID, status schema.TaskStatus) {
	r.mu.Lock()
	if t := r.tasks[id]; t != nil {
		t.summary.Status = status
	}
	r.mu.Unlock()
	r.pub.PublishStatus(id, status)
}

func (r *Runner) summary(id schema.TaskID) schema.TaskSummary {
	summary, _ := r.Get(id)
	return summary
}

func (r *Runner) stamp(line string) string {
	return "[" + r.now().Format("15:04:05") + "] " + line
}

func isFinal(summary schema.TaskSummary) bool {
	channel := schema.OneShot(summary.ID)
	if summary.Scheduler {
		channel = schema.Scheduler(summary.ID)
	}
	return channel.IsTerminal(summary.Status)
}
