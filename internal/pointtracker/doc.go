// Package pointtracker estimates the 6-DOF pose of a rigid three-marker
// constellation from camera frames.
//
// Pipeline: Extractor finds bright blobs and reports their centroids as
// width-normalised image points; PoseSolver matches them to the PointModel
// and solves for the model-to-camera transform, seeded by the previous pose;
// Tracker runs both in a worker goroutine and serves HeadPose queries.
//
// Camera frame: x right, y down, z forward (into the scene). Image points use
// the same orientation with the origin at the image centre, scaled by image
// width, so u = f·X/Z and v = f·Y/Z for focal ratio f.
//
// Key types: Point2D, PointModel, FrameTrafo, PoseSolver, Tracker, HeadPose.
package pointtracker
