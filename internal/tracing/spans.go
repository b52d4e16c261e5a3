package tracing

// Span attribute keys for stage lifecycle tracing.
const (
	AttrStageName     = "stage.name"
	AttrStageUUID     = "stage.uuid"
	AttrStageFlags    = "stage.flags"
	AttrStagePrivate  = "stage.private"
	AttrStagePrevName = "stage.prev_name"
	AttrStageState    = "stage.state"

	AttrCanvasVideo = "canvas.video"

	AttrOutputName  = "output.name"
	AttrOutputIndex = "output.index"
	AttrOutputForce = "output.force"
	AttrOutputCount = "output.count"

	AttrRecordCount = "record.count"

	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanStageCreate       = "stage.create"
	SpanStageLoad         = "stage.load"
	SpanStageDestroy      = "stage.destroy"
	SpanStageRename       = "stage.rename"
	SpanStageSave         = "stage.save"
	SpanStageOutputAdd    = "stage.output.add"
	SpanStageOutputRemove = "stage.output.remove"
	SpanCoreShutdown      = "core.shutdown"
	SpanCoreSaveAll       = "core.save_all"
	SpanCoreLoadAll       = "core.load_all"
	SpanRuntimeReconcile  = "runtime.reconcile"
)

// Event names for span events.
const (
	EventRollback       = "construction.rollback"
	EventLinked         = "registry.linked"
	EventUnlinked       = "registry.unlinked"
	EventOutputsDrained = "outputs.drained"
	EventCanvasReleased = "canvas.released"
)
