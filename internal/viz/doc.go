// Package viz provides a terminal drive station for a simulated
// drivetrain.
//
// [TeleopModel] is a Bubble Tea program that runs the drivetrain's default
// teleop command at the control loop period and lets the operator start
// closed-loop moves, change the output limit and hang the control loop to
// watch the watchdog respond.
//
// # Key Bindings
//
//	W/S   - Forward axis up/down
//	A/D   - Rotation axis left/right
//	X     - Centre both axes and cancel a move
//	E     - Toggle squared inputs
//	[ ]   - Lower/raise Drive Max
//	M     - Straight move of 48 inches
//	T     - Turn 90 degrees
//	Space - Hang/resume the control loop
//	Q/Esc - Quit
package viz
