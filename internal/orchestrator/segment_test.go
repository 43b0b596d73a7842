package orchestrator

import "testing"

func bounds(s SegmentState) (in, out float64, hasIn, hasOut bool) {
	if s.InPoint != nil {
		in, hasIn = *s.InPoint, true
	}
	if s.OutPoint != nil {
		out, hasOut = *s.OutPoint, true
	}
	return
}

func TestSetOutPointBeforeInPointClearsIn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	c := h.do(SetInPoint{Time: at(10)}, SetOutPoint{Time: at(5)})
	_, out, hasIn, hasOut := bounds(c.Segment)
	if hasIn || !hasOut || out != 5 {
		t.Fatalf("expected in=nil out=5, got %+v", c.Segment)
	}
	if c.Segment.IsComplete {
		t.Fatal("segment without in point cannot be complete")
	}
}

func TestSetInPointAfterOutPointClearsOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	c := h.do(SetOutPoint{Time: at(20)})
	in, out, hasIn, hasOut := bounds(c.Segment)
	if !hasIn || in != 0 || !hasOut || out != 20 || !c.Segment.IsComplete {
		t.Fatalf("out point must default in to 0, got %+v", c.Segment)
	}

	c = h.do(SetInPoint{Time: at(30)})
	in, _, hasIn, hasOut = bounds(c.Segment)
	if !hasIn || in != 30 || hasOut {
		t.Fatalf("expected in=30 out=nil, got %+v", c.Segment)
	}
}

func TestSetOutPointAtZeroLeavesNoInPoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	c := h.do(SetOutPoint{Time: at(0)})
	_, _, hasIn, hasOut := bounds(c.Segment)
	if hasIn || !hasOut {
		t.Fatalf("expected in=nil out=0, got %+v", c.Segment)
	}
}

func TestSegmentPointReadsPlayhead(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.video.setTime(42.5)

	c := h.do(SetInPoint{})
	if in, _, ok, _ := bounds(c.Segment); !ok || in != 42.5 {
		t.Fatalf("expected in point at playhead, got %+v", c.Segment)
	}
}

func TestSegmentPauseRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.do(Play{})
	h.video.mu.Lock()
	h.video.pauseFailures = 2
	h.video.mu.Unlock()

	c := h.do(SetInPoint{Time: at(12)})
	if pauses, _ := h.video.counts(); pauses != 3 {
		t.Fatalf("expected 3 pause attempts, got %d", pauses)
	}
	if c.State != StateVideoPaused || c.Video.IsPlaying {
		t.Fatalf("expected paused video, got %s", c.State)
	}
	if in, _, ok, _ := bounds(c.Segment); !ok || in != 12 {
		t.Fatalf("unexpected segment %+v", c.Segment)
	}
	if len(c.Errors) != 0 {
		t.Fatalf("unexpected errors %+v", c.Errors)
	}
}

func TestSegmentPauseFailureProceedsOnLastAttempt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.do(Play{})
	h.video.mu.Lock()
	h.video.pauseFailures = -1
	h.video.mu.Unlock()

	c := h.do(SetInPoint{Time: at(12)})
	if pauses, _ := h.video.counts(); pauses != segmentAttempts {
		t.Fatalf("expected %d pause attempts, got %d", segmentAttempts, pauses)
	}
	if in, _, ok, _ := bounds(c.Segment); !ok || in != 12 {
		t.Fatalf("in point must be set despite pause failure, got %+v", c.Segment)
	}
	if c.State != StateVideoPlaying || !c.Video.IsPlaying {
		t.Fatalf("video state must reflect the failed pause, got %s", c.State)
	}
	if len(c.Errors) != 0 {
		t.Fatalf("best-effort proceed must not record an error, got %+v", c.Errors)
	}
}

func TestSendSegmentToChatRequiresCompleteSegment(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	c := h.do(SetInPoint{Time: at(5)}, SendSegmentToChat{})
	if c.Segment.SentToChat {
		t.Fatal("incomplete segment must not be sent")
	}

	c = h.do(SetOutPoint{Time: at(9)}, SendSegmentToChat{})
	if !c.Segment.SentToChat || !c.Segment.IsComplete {
		t.Fatalf("expected sent segment, got %+v", c.Segment)
	}

	c = h.do(SetOutPoint{Time: at(15)})
	if c.Segment.SentToChat {
		t.Fatal("changing a bound must reset sent state")
	}

	c = h.do(ClearSegment{})
	if c.Segment != (SegmentState{}) {
		t.Fatalf("expected empty segment, got %+v", c.Segment)
	}
}

func TestRecordingFlags(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	c := h.do(RecordingPaused{})
	if c.Recording.IsPaused {
		t.Fatal("cannot pause a recording that never started")
	}
	c = h.do(RecordingStarted{}, RecordingPaused{})
	if !c.Recording.IsRecording || !c.Recording.IsPaused {
		t.Fatalf("unexpected recording %+v", c.Recording)
	}
	c = h.do(RecordingResumed{})
	if !c.Recording.IsRecording || c.Recording.IsPaused {
		t.Fatalf("unexpected recording %+v", c.Recording)
	}
	c = h.do(RecordingStopped{})
	if c.Recording != (RecordingState{}) {
		t.Fatalf("unexpected recording %+v", c.Recording)
	}
}
